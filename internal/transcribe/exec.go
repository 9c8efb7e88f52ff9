package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chaz8081/gostt-live/internal/audio"
)

// ExecEngine runs a helper command per window. The window is written to a
// temporary WAV file and the helper is invoked as
//
//	<command> --audio <path> --model <m> [--device d] [--language l]
//	  [--beam-size n] [--vad-filter] [--word-timestamps] [--temperature t]
//	  [--no-speech-threshold x] [--log-prob-threshold y]
//	  [--condition-on-previous-text=false]
//
// and must print a JSON object on stdout: {"language", "language_probability",
// "duration", "segments": [{"start", "end", "text", "words": [...]}]}.
// A helper that exits with status 2 (the flag-parse failure convention) on an
// extended call reports ErrUnsupportedOption, which triggers the one reduced
// retry.
type ExecEngine struct {
	command    []string
	model      string
	device     string
	sampleRate uint32
	log        *slog.Logger
}

// NewExecEngine creates an ExecEngine. The command string is split on
// whitespace; the first token is the executable.
func NewExecEngine(command, model, device string, sampleRate uint32, logger *slog.Logger) *ExecEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecEngine{
		command:    strings.Fields(command),
		model:      model,
		device:     device,
		sampleRate: sampleRate,
		log:        logger.With("component", "engine.exec"),
	}
}

type execOutput struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	Segments            []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe implements the Engine interface.
func (e *ExecEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if len(e.command) == 0 {
		return Result{}, fmt.Errorf("transcribe: exec backend has no command")
	}

	wavData, err := audio.EncodeWAV(samples, e.sampleRate)
	if err != nil {
		return Result{}, err
	}

	f, err := os.CreateTemp("", "gostt-window-*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: creating window file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(wavData); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("transcribe: writing window file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("transcribe: writing window file: %w", err)
	}

	args := append([]string{}, e.command[1:]...)
	args = append(args, "--audio", path, "--model", e.model)
	if e.device != "" {
		args = append(args, "--device", e.device)
	}
	if opts.Language != "" && opts.Language != "auto" {
		args = append(args, "--language", opts.Language)
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(opts.BeamSize))
	}
	if opts.VADFilter {
		args = append(args, "--vad-filter")
	}
	if opts.WordTimestamps {
		args = append(args, "--word-timestamps")
	}
	args = append(args, "--temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64))
	if opts.Extended {
		args = append(args,
			"--no-speech-threshold", strconv.FormatFloat(opts.NoSpeechThreshold, 'f', -1, 64),
			"--log-prob-threshold", strconv.FormatFloat(opts.LogProbThreshold, 'f', -1, 64),
			"--condition-on-previous-text="+strconv.FormatBool(opts.ConditionOnPrevious),
		)
	}

	cmd := exec.CommandContext(ctx, e.command[0], args...)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			stderr := strings.TrimSpace(string(ee.Stderr))
			if opts.Extended && ee.ExitCode() == 2 {
				return Result{}, fmt.Errorf("transcribe: helper %s rejected options: %s: %w",
					filepath.Base(e.command[0]), stderr, ErrUnsupportedOption)
			}
			return Result{}, fmt.Errorf("transcribe: helper %s failed: %s", filepath.Base(e.command[0]), stderr)
		}
		return Result{}, fmt.Errorf("transcribe: running helper: %w", err)
	}

	var parsed execOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, fmt.Errorf("transcribe: parsing helper output: %w", err)
	}

	result := Result{
		Language:     parsed.Language,
		LanguageProb: parsed.LanguageProbability,
		Duration:     parsed.Duration,
	}
	for _, s := range parsed.Segments {
		seg := Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, Word{
				Text:        strings.TrimSpace(w.Word),
				Start:       w.Start,
				End:         w.End,
				Probability: w.Probability,
			})
		}
		result.Segments = append(result.Segments, seg)
	}
	return result, nil
}

// Close implements the Engine interface.
func (e *ExecEngine) Close() error {
	return nil
}
