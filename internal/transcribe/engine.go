// Package transcribe provides the boundary to external speech-to-text
// engines.
//
// Supported backends:
//   - server: OpenAI-compatible HTTP transcription server (default)
//   - exec: helper subprocess emitting JSON on stdout
//   - stub: deterministic output without a real engine
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/gostt-live/internal/config"
)

// ErrUnsupportedOption reports that the engine rejected one of the extended
// options. Callers retry once with Options.Reduced; see Options.Extended.
var ErrUnsupportedOption = errors.New("transcribe: unsupported option")

// Word is a single recognized word with window-relative timestamps.
type Word struct {
	Text        string
	Start       float64
	End         float64
	Probability float64
}

// Segment is a contiguous span of recognized speech. Words is empty when the
// engine did not produce word timestamps.
type Segment struct {
	Text  string
	Start float64
	End   float64
	Words []Word
}

// Result is the outcome of one engine call. All timestamps are seconds
// relative to the start of the submitted window.
type Result struct {
	Segments     []Segment
	Language     string
	LanguageProb float64
	Duration     float64
}

// Options carries the per-call engine parameters.
type Options struct {
	Language       string
	BeamSize       int
	WordTimestamps bool
	VADFilter      bool
	Temperature    float64

	// Extended parameters. Not every engine accepts them; when Extended is
	// false they are not sent at all.
	NoSpeechThreshold   float64
	LogProbThreshold    float64
	ConditionOnPrevious bool
	Extended            bool
}

// Reduced returns the options with the extended parameters cleared, for the
// single retry after an engine reports ErrUnsupportedOption.
func (o Options) Reduced() Options {
	o.Extended = false
	o.NoSpeechThreshold = 0
	o.LogProbThreshold = 0
	o.ConditionOnPrevious = false
	return o
}

// Engine converts audio windows to text.
type Engine interface {
	// Transcribe transcribes a window of mono float32 samples. Timestamps in
	// the result are relative to the start of the window.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
	// Close releases backend resources.
	Close() error
}

// New creates an Engine based on the config backend setting.
func New(cfg *config.Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Engine.Backend {
	case "server", "":
		return NewServerEngine(cfg.Engine.URL, cfg.Engine.Model, cfg.Audio.SampleRate, cfg.Engine.Timeout(), logger), nil
	case "exec":
		return NewExecEngine(cfg.Engine.Command, cfg.Engine.Model, cfg.Engine.Device, cfg.Audio.SampleRate, logger), nil
	case "stub":
		return NewStubEngine(logger), nil
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: server, exec, stub)", cfg.Engine.Backend)
	}
}

// OptionsFromConfig builds the engine options the configuration describes.
// Extended is set: the first call carries the full parameter set.
func OptionsFromConfig(cfg *config.EngineConfig) Options {
	return Options{
		Language:            cfg.Language,
		BeamSize:            cfg.BeamSize,
		WordTimestamps:      cfg.WordTimestamps,
		VADFilter:           cfg.VADFilter,
		Temperature:         cfg.Temperature,
		NoSpeechThreshold:   cfg.NoSpeechThreshold,
		LogProbThreshold:    cfg.LogProbThreshold,
		ConditionOnPrevious: true,
		Extended:            true,
	}
}
