package bus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaz8081/gostt-live/internal/telemetry"
)

func startTestServer(t *testing.T) (*Server, string, *telemetry.Recorder) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "bus.sock")
	rec := telemetry.NewRecorder(nil)
	srv := NewServer(sockPath, rec, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, sockPath, rec
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServerPublishToSubscriber(t *testing.T) {
	srv, sockPath, _ := startTestServer(t)

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	waitFor(t, "subscriber registration", func() bool { return srv.Subscribers() == 1 })

	srv.Publish(Event{
		Event:     EventEmission,
		SessionID: "sess-1",
		Seq:       IntPtr(0),
		Text:      "hello world",
		Start:     Float64Ptr(1.5),
		End:       Float64Ptr(2.5),
	})

	ev, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if ev.Event != EventEmission {
		t.Errorf("Event = %q, want %q", ev.Event, EventEmission)
	}
	if ev.Text != "hello world" {
		t.Errorf("Text = %q, want %q", ev.Text, "hello world")
	}
	if ev.Seq == nil || *ev.Seq != 0 {
		t.Errorf("Seq = %v, want 0", ev.Seq)
	}
	if ev.Start == nil || *ev.Start != 1.5 {
		t.Errorf("Start = %v, want 1.5", ev.Start)
	}
}

func TestServerGreetingReplayedToLateSubscriber(t *testing.T) {
	srv, sockPath, _ := startTestServer(t)

	srv.Announce(Event{
		Event:     EventSessionStarted,
		SessionID: "sess-42",
		Session:   "20260314_100000",
	})

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ev, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if ev.Event != EventSessionStarted {
		t.Errorf("first event = %q, want the session greeting", ev.Event)
	}
	if ev.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want sess-42", ev.SessionID)
	}
}

func TestServerMultipleSubscribers(t *testing.T) {
	srv, sockPath, _ := startTestServer(t)

	c1, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c1.Close()
	c2, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c2.Close()

	waitFor(t, "both subscribers", func() bool { return srv.Subscribers() == 2 })

	srv.Publish(Event{Event: EventEmission, Text: "to everyone"})

	for i, c := range []*Client{c1, c2} {
		ev, err := c.ReadEvent()
		if err != nil {
			t.Fatalf("subscriber %d ReadEvent() error = %v", i, err)
		}
		if ev.Text != "to everyone" {
			t.Errorf("subscriber %d Text = %q, want %q", i, ev.Text, "to everyone")
		}
	}
}

func TestPublishEvictsOldestWhenQueueFull(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "bus.sock")
	rec := telemetry.NewRecorder(nil)
	srv := NewServer(sockPath, rec, nil)

	// Inject a subscriber with a tiny queue and no draining writer.
	sub := &subscriber{
		id:    1,
		queue: make(chan Event, 2),
		done:  make(chan struct{}),
	}
	srv.subs[sub.id] = sub

	for i := 0; i < 5; i++ {
		srv.Publish(Event{Event: EventEmission, Seq: IntPtr(i)})
	}

	if got := rec.Snapshot().BusDropped; got != 3 {
		t.Errorf("BusDropped = %d, want 3", got)
	}

	// The queue holds the most recent events, in order.
	first := <-sub.queue
	second := <-sub.queue
	if first.Seq == nil || *first.Seq != 3 {
		t.Errorf("first queued Seq = %v, want 3", first.Seq)
	}
	if second.Seq == nil || *second.Seq != 4 {
		t.Errorf("second queued Seq = %v, want 4", second.Seq)
	}
}

func TestServerCloseRemovesSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "bus.sock")
	srv := NewServer(sockPath, nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed on Close")
	}
	if _, err := Connect(sockPath); err == nil {
		t.Error("Connect() should fail after Close")
	}

	// A second Close is a no-op.
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestServerReplacesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "bus.sock")
	if err := os.WriteFile(sockPath, []byte("stale"), 0644); err != nil {
		t.Fatalf("writing stale file: %v", err)
	}

	srv := NewServer(sockPath, nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() with stale socket error = %v", err)
	}
	defer srv.Close()

	if _, err := Connect(sockPath); err != nil {
		t.Errorf("Connect() after stale replacement error = %v", err)
	}
}

func TestClientConnectFailure(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "missing.sock"))
	if err == nil {
		t.Error("expected error connecting to a missing socket")
	}
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		max     int
		want    time.Duration
	}{
		{0, 30, 1 * time.Second},
		{1, 30, 2 * time.Second},
		{2, 30, 4 * time.Second},
		{4, 30, 16 * time.Second},
		{5, 30, 30 * time.Second},
		{20, 30, 30 * time.Second},
		{500, 30, 30 * time.Second}, // no overflow
	}
	for _, tt := range tests {
		if got := ReconnectDelay(tt.attempt, tt.max); got != tt.want {
			t.Errorf("ReconnectDelay(%d, %d) = %v, want %v", tt.attempt, tt.max, got, tt.want)
		}
	}
}
