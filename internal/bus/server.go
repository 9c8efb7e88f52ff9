package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/chaz8081/gostt-live/internal/telemetry"
)

// Queue depth per subscriber. When full, the oldest event is evicted so a
// catching-up subscriber sees the most recent transcript.
const subscriberQueueSize = 128

const writeTimeout = 5 * time.Second

type subscriber struct {
	id    int
	conn  net.Conn
	queue chan Event
	done  chan struct{}
}

// Server accepts Unix-socket subscribers and fans emitted events out to
// them. Each subscriber has its own bounded queue; publishing never blocks.
type Server struct {
	socketPath string
	log        *slog.Logger
	rec        *telemetry.Recorder

	mu       sync.Mutex
	ln       net.Listener
	subs     map[int]*subscriber
	nextID   int
	greeting *Event
	closed   bool

	wg sync.WaitGroup
}

// NewServer creates a Server for the given socket path.
func NewServer(socketPath string, rec *telemetry.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		log:        logger.With("component", "bus"),
		rec:        rec,
		subs:       make(map[int]*subscriber),
	}
}

// Start begins listening on the socket. A stale socket file from a previous
// run is removed first.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bus: removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bus: listening on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.log.Info("bus listening", "socket", s.socketPath)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed on shutdown.
			return
		}
		s.addSubscriber(conn)
	}
}

func (s *Server) addSubscriber(conn net.Conn) {
	sub := &subscriber{
		conn:  conn,
		queue: make(chan Event, subscriberQueueSize),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	greeting := s.greeting
	s.mu.Unlock()

	if greeting != nil {
		sub.queue <- *greeting
	}

	s.log.Debug("subscriber connected", "id", sub.id)

	s.wg.Add(1)
	go s.writeLoop(sub)
}

func (s *Server) writeLoop(sub *subscriber) {
	defer s.wg.Done()
	defer s.dropSubscriber(sub)

	for {
		select {
		case ev := <-sub.queue:
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("marshal event", "error", err)
				continue
			}
			data = append(data, '\n')
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := sub.conn.Write(data); err != nil {
				s.log.Debug("subscriber write failed", "id", sub.id, "error", err)
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (s *Server) dropSubscriber(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.conn.Close()
}

// Announce broadcasts ev and replays it to subscribers that connect later.
// Used for the session_started greeting.
func (s *Server) Announce(ev Event) {
	s.mu.Lock()
	s.greeting = &ev
	s.mu.Unlock()
	s.Publish(ev)
}

// Publish sends ev to every connected subscriber without blocking. A full
// subscriber queue evicts its oldest event to make room.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.queue <- ev:
			continue
		default:
		}
		// Evict the oldest queued event, then retry once.
		select {
		case <-sub.queue:
		default:
		}
		select {
		case sub.queue <- ev:
		default:
		}
		s.rec.BusDropped()
		s.log.Debug("subscriber queue full, dropped oldest", "id", sub.id)
	}
}

// Subscribers returns the number of connected subscribers.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close disconnects all subscribers, stops the listener, and removes the
// socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	return nil
}
