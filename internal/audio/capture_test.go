package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/chaz8081/gostt-live/internal/telemetry"
)

func TestNewCaptureAndClose(t *testing.T) {
	c, err := NewCapture(CaptureConfig{SampleRate: 16000, Channels: 1, BlockMs: 50, QueueSize: 8}, nil)
	if err != nil {
		t.Skipf("no audio backend available: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if c.cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", c.cfg.SampleRate)
	}
	if cap(c.blocks) != 8 {
		t.Errorf("blocks capacity = %d, want 8", cap(c.blocks))
	}
}

func TestCaptureNotRunningByDefault(t *testing.T) {
	c, err := NewCapture(CaptureConfig{SampleRate: 16000, Channels: 1, QueueSize: 4}, nil)
	if err != nil {
		t.Skipf("no audio backend available: %v", err)
	}
	defer c.Close()

	if c.Running() {
		t.Error("Running() should be false after creation")
	}
}

func TestFramesToMono(t *testing.T) {
	// One mono frame with known float32 value: 1.0 = 0x3F800000
	data := []byte{0x00, 0x00, 0x80, 0x3F}
	samples := framesToMono(data, 1, 1)

	if len(samples) != 1 {
		t.Fatalf("framesToMono() returned %d samples, want 1", len(samples))
	}
	if samples[0] != 1.0 {
		t.Errorf("framesToMono() = %f, want 1.0", samples[0])
	}
}

func TestFramesToMonoMultiple(t *testing.T) {
	// Two mono frames: 0.0 and -1.0
	// 0.0 = 0x00000000, -1.0 = 0xBF800000
	data := []byte{
		0x00, 0x00, 0x00, 0x00, // 0.0
		0x00, 0x00, 0x80, 0xBF, // -1.0
	}
	samples := framesToMono(data, 2, 1)

	if len(samples) != 2 {
		t.Fatalf("framesToMono() returned %d samples, want 2", len(samples))
	}
	if samples[0] != 0.0 {
		t.Errorf("samples[0] = %f, want 0.0", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("samples[1] = %f, want -1.0", samples[1])
	}
}

func TestFramesToMonoStereoTakesChannelZero(t *testing.T) {
	// Two stereo frames; channel 0 carries 0.5 then -0.5, channel 1 carries 1.0.
	// 0.5 = 0x3F000000, -0.5 = 0xBF000000, 1.0 = 0x3F800000
	data := []byte{
		0x00, 0x00, 0x00, 0x3F, // frame 0 ch 0: 0.5
		0x00, 0x00, 0x80, 0x3F, // frame 0 ch 1: 1.0
		0x00, 0x00, 0x00, 0xBF, // frame 1 ch 0: -0.5
		0x00, 0x00, 0x80, 0x3F, // frame 1 ch 1: 1.0
	}
	samples := framesToMono(data, 2, 2)

	if len(samples) != 2 {
		t.Fatalf("framesToMono() returned %d samples, want 2", len(samples))
	}
	if samples[0] != 0.5 {
		t.Errorf("samples[0] = %f, want 0.5", samples[0])
	}
	if samples[1] != -0.5 {
		t.Errorf("samples[1] = %f, want -0.5", samples[1])
	}
}

func TestFramesToMonoTruncatedData(t *testing.T) {
	// Claims 3 frames but only carries bytes for 1.
	data := []byte{0x00, 0x00, 0x80, 0x3F, 0x00, 0x00}
	samples := framesToMono(data, 3, 1)

	if len(samples) != 1 {
		t.Errorf("framesToMono() returned %d samples, want 1", len(samples))
	}
}

func TestOnDataDropsWhenQueueFull(t *testing.T) {
	rec := telemetry.NewRecorder(nil)
	c := &Capture{
		cfg:    CaptureConfig{SampleRate: 16000, Channels: 1, QueueSize: 2},
		rec:    rec,
		blocks: make(chan []float32, 2),
	}

	frame := []byte{0x00, 0x00, 0x80, 0x3F} // one sample
	for i := 0; i < 5; i++ {
		c.onData(nil, frame, 1)
	}

	s := rec.Snapshot()
	if s.BlocksCaptured != 2 {
		t.Errorf("BlocksCaptured = %d, want 2", s.BlocksCaptured)
	}
	if s.BlocksDropped != 3 {
		t.Errorf("BlocksDropped = %d, want 3", s.BlocksDropped)
	}

	// The queued blocks are the ones that were not dropped, in order.
	if len(c.blocks) != 2 {
		t.Fatalf("queued blocks = %d, want 2", len(c.blocks))
	}
	b := <-c.blocks
	if len(b) != 1 || b[0] != 1.0 {
		t.Errorf("queued block = %v, want [1.0]", b)
	}
}

// A consumer stall must never back up into the callback: the queue keeps
// the first blocks that fit, in arrival order, and sheds the rest.
func TestOnDataStallKeepsOrder(t *testing.T) {
	rec := telemetry.NewRecorder(nil)
	c := &Capture{
		cfg:    CaptureConfig{SampleRate: 16000, Channels: 1, QueueSize: 50},
		rec:    rec,
		blocks: make(chan []float32, 50),
	}

	frame := make([]byte, 4)
	for i := 0; i < 1000; i++ {
		binary.LittleEndian.PutUint32(frame, math.Float32bits(float32(i)))
		c.onData(nil, frame, 1)
	}

	s := rec.Snapshot()
	if s.BlocksCaptured != 50 {
		t.Errorf("BlocksCaptured = %d, want 50", s.BlocksCaptured)
	}
	if s.BlocksDropped != 950 {
		t.Errorf("BlocksDropped = %d, want 950", s.BlocksDropped)
	}

	// Consumer unblocks: it sees exactly the surviving blocks, in order.
	for i := 0; i < 50; i++ {
		b := <-c.blocks
		if len(b) != 1 || b[0] != float32(i) {
			t.Fatalf("block %d = %v, want [%d]", i, b, i)
		}
	}
	if len(c.blocks) != 0 {
		t.Errorf("queue still holds %d blocks, want 0", len(c.blocks))
	}
}

func TestOnDataEmptyPayload(t *testing.T) {
	c := &Capture{
		cfg:    CaptureConfig{Channels: 1},
		blocks: make(chan []float32, 1),
	}

	c.onData(nil, nil, 0)

	if len(c.blocks) != 0 {
		t.Error("empty payload should not enqueue a block")
	}
}
