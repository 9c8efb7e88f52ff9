package telemetry

import (
	"log/slog"
	"sync/atomic"
)

// Recorder tracks pipeline counters. All methods are safe for concurrent use
// and safe on a nil receiver, so components can run without telemetry wired.
type Recorder struct {
	log *slog.Logger

	blocksCaptured atomic.Uint64
	blocksDropped  atomic.Uint64
	windows        atomic.Uint64
	windowsSkipped atomic.Uint64
	engineErrors   atomic.Uint64
	emissions      atomic.Uint64
	busDropped     atomic.Uint64
	storeErrors    atomic.Uint64
}

// Snapshot captures cumulative counters recorded so far.
type Snapshot struct {
	BlocksCaptured uint64
	BlocksDropped  uint64
	Windows        uint64
	WindowsSkipped uint64
	EngineErrors   uint64
	Emissions      uint64
	BusDropped     uint64
	StoreErrors    uint64
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry"),
	}
}

// BlockCaptured counts an audio block handed off to the writer queue.
func (r *Recorder) BlockCaptured() {
	if r == nil {
		return
	}
	r.blocksCaptured.Add(1)
}

// BlockDropped counts an audio block discarded because the queue was full.
func (r *Recorder) BlockDropped() {
	if r == nil {
		return
	}
	r.blocksDropped.Add(1)
}

// Window counts a completed inference call.
func (r *Recorder) Window() {
	if r == nil {
		return
	}
	r.windows.Add(1)
}

// WindowSkipped counts a paced tick that produced no inference result,
// either because the buffer was too short or the engine call failed.
func (r *Recorder) WindowSkipped() {
	if r == nil {
		return
	}
	r.windowsSkipped.Add(1)
}

// EngineError counts a failed engine call.
func (r *Recorder) EngineError() {
	if r == nil {
		return
	}
	r.engineErrors.Add(1)
}

// Emission counts a newly finalized transcript record released to sinks.
func (r *Recorder) Emission() {
	if r == nil {
		return
	}
	r.emissions.Add(1)
}

// BusDropped counts an event discarded because a subscriber queue was full.
func (r *Recorder) BusDropped() {
	if r == nil {
		return
	}
	r.busDropped.Add(1)
}

// StoreError counts a failed write to the session index.
func (r *Recorder) StoreError() {
	if r == nil {
		return
	}
	r.storeErrors.Add(1)
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		BlocksCaptured: r.blocksCaptured.Load(),
		BlocksDropped:  r.blocksDropped.Load(),
		Windows:        r.windows.Load(),
		WindowsSkipped: r.windowsSkipped.Load(),
		EngineErrors:   r.engineErrors.Load(),
		Emissions:      r.emissions.Load(),
		BusDropped:     r.busDropped.Load(),
		StoreErrors:    r.storeErrors.Load(),
	}
}

// LogSummary writes the session totals at info level.
func (r *Recorder) LogSummary() {
	if r == nil {
		return
	}
	s := r.Snapshot()
	r.log.Info("session summary",
		"blocks_captured", s.BlocksCaptured,
		"blocks_dropped", s.BlocksDropped,
		"windows", s.Windows,
		"windows_skipped", s.WindowsSkipped,
		"engine_errors", s.EngineErrors,
		"emissions", s.Emissions,
		"bus_dropped", s.BusDropped,
		"store_errors", s.StoreErrors,
	)
}
