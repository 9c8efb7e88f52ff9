package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client subscribes to a bus socket and reads the event stream.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Connect dials the bus Unix socket.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line limit

	return &Client{conn: conn, scanner: scanner}, nil
}

// ReadEvent reads the next NDJSON event line. Blocks until data arrives.
func (c *Client) ReadEvent() (Event, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Event{}, fmt.Errorf("bus: read event: %w", err)
		}
		return Event{}, fmt.Errorf("bus: connection closed")
	}

	var ev Event
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
		return Event{}, fmt.Errorf("bus: unmarshal event: %w", err)
	}

	return ev, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ReconnectDelay returns the reconnection delay for attempt n, doubling each
// attempt and capped at maxSeconds.
func ReconnectDelay(attempt, maxSeconds int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	maxDelay := time.Duration(maxSeconds) * time.Second
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
