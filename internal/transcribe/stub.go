package transcribe

import (
	"context"
	"fmt"
	"log/slog"
)

// StubEngine produces deterministic transcripts without a real engine, for
// tests and for exercising the pipeline end to end.
type StubEngine struct {
	log *slog.Logger

	// RejectExtended makes the first extended call fail with
	// ErrUnsupportedOption, simulating an engine without the extra options.
	RejectExtended bool

	calls int
}

// NewStubEngine returns an Engine that generates placeholder transcripts.
func NewStubEngine(logger *slog.Logger) *StubEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEngine{
		log: logger.With("component", "engine.stub"),
	}
}

// Transcribe implements the Engine interface. It returns one segment
// spanning the window, without word timestamps.
func (e *StubEngine) Transcribe(_ context.Context, samples []float32, opts Options) (Result, error) {
	if e.RejectExtended && opts.Extended {
		return Result{}, fmt.Errorf("stub: extended options: %w", ErrUnsupportedOption)
	}
	if len(samples) == 0 {
		return Result{}, nil
	}

	e.calls++
	dur := float64(len(samples)) / 16000.0
	text := fmt.Sprintf("[stub] window %d, %.1fs of audio", e.calls, dur)
	e.log.Debug("stub transcript", "call", e.calls, "samples", len(samples))

	return Result{
		Language:     "en",
		LanguageProb: 1.0,
		Duration:     dur,
		Segments: []Segment{
			{Text: text, Start: 0, End: dur},
		},
	}, nil
}

// Close implements the Engine interface.
func (e *StubEngine) Close() error {
	return nil
}
