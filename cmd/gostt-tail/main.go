// gostt-tail follows a gostt-live broadcast socket and prints emitted
// transcript text as it arrives. It keeps retrying with backoff until the
// publisher shows up, so it can be started before the session.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chaz8081/gostt-live/internal/bus"
	"github.com/chaz8081/gostt-live/internal/config"
	"github.com/chaz8081/gostt-live/internal/live"
)

const maxBackoffSeconds = 30

func main() {
	socketPath := flag.String("socket", "", "broadcast socket path (default: resolved from config)")
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-live/config.yaml)")
	once := flag.Bool("once", false, "exit when the stream ends instead of waiting for the next session")
	flag.Parse()

	socket := *socketPath
	if socket == "" {
		var err error
		if socket, err = resolveSocket(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	for attempt := 0; ; {
		client, err := bus.Connect(socket)
		if err != nil {
			delay := bus.ReconnectDelay(attempt, maxBackoffSeconds)
			fmt.Fprintf(os.Stderr, "waiting for publisher at %s (retrying in %s)\n", socket, delay)
			time.Sleep(delay)
			attempt++
			continue
		}
		attempt = 0

		fmt.Fprintf(os.Stderr, "connected to %s\n", socket)
		tail(client)
		client.Close()

		if *once {
			return
		}
	}
}

// tail prints events until the stream ends.
func tail(client *bus.Client) {
	for {
		ev, err := client.ReadEvent()
		if err != nil {
			fmt.Fprintln(os.Stderr, "stream ended")
			return
		}

		switch ev.Event {
		case bus.EventSessionStarted:
			fmt.Fprintf(os.Stderr, "--- session %s started ---\n", ev.Session)
		case bus.EventSessionEnded:
			fmt.Fprintf(os.Stderr, "--- session %s ended ---\n", ev.Session)
		case bus.EventEmission:
			fmt.Printf("[%s] %s\n", shortTime(ev.AbsoluteStart), ev.Text)
		}
	}
}

// shortTime reduces an RFC3339 timestamp to wall-clock seconds for display.
func shortTime(stamp string) string {
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return stamp
	}
	return t.Format("15:04:05")
}

// resolveSocket finds the broadcast socket the way the publisher does: the
// configured path, or the default name under the output directory.
func resolveSocket(path string) (string, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return "", err
		}
		cfg = loaded
	} else if defaultPath := config.DefaultConfigPath(); defaultPath != "" {
		if _, err := os.Stat(defaultPath); err == nil {
			loaded, err := config.Load(defaultPath)
			if err != nil {
				return "", err
			}
			cfg = loaded
		}
	}

	if cfg.Bus.Socket != "" {
		return cfg.Bus.Socket, nil
	}
	return filepath.Join(cfg.Output.Dir, live.DefaultSocketFile), nil
}
