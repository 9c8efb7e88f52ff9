// Package live runs a transcription session end to end: microphone blocks
// flow through a bounded queue into a ring buffer and an optional WAV file,
// while a paced loop transcribes a sliding window of recent audio and emits
// the not-yet-heard tail of each result to the session's sinks.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-live/internal/audio"
	"github.com/chaz8081/gostt-live/internal/bus"
	"github.com/chaz8081/gostt-live/internal/config"
	"github.com/chaz8081/gostt-live/internal/telemetry"
	"github.com/chaz8081/gostt-live/internal/transcribe"
	"github.com/chaz8081/gostt-live/internal/transcript"
)

// defaultJoinTimeout bounds Stop's wait for the worker goroutines. A worker
// stuck past it is abandoned so shutdown always completes.
const defaultJoinTimeout = 2 * time.Second

// StoreFile is the SQLite session index kept alongside the transcripts.
const StoreFile = "gostt-live.db"

// DefaultSocketFile is the broadcast socket name used when bus.socket is
// not configured.
const DefaultSocketFile = "gostt-live.sock"

// source abstracts the capture device so tests can drive the pipeline with
// synthetic blocks. *audio.Capture satisfies it.
type source interface {
	Start() error
	Stop()
	Close() error
	Blocks() <-chan []float32
}

// Session owns one live transcription run from device open to final
// summary. Construct with NewSession, then Start; a Session runs at most
// once and is discarded after Stop returns or Start fails.
type Session struct {
	cfg *config.Config
	log *slog.Logger
	rec *telemetry.Recorder

	id    string
	name  string
	start time.Time

	src     source
	engine  transcribe.Engine
	ring    *audio.Ring
	emitter *Emitter

	jsonl  *transcript.Writer
	wav    *audio.WAVWriter
	store  *transcript.Store
	busSrv *bus.Server

	// Notify, when set before Start, receives every emitted record on the
	// inference goroutine. It must be fast; it runs inline with the loop.
	Notify func(transcript.Record)

	samplesWritten atomic.Int64

	seq           int  // next emission sequence, inference goroutine only
	reducedWarned bool // inference goroutine only

	wavErrStreak bool // writer goroutine only
	loggedDrops  uint64
	lastDropLog  time.Time

	joinTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	transcriptPath string
	audioPath      string
}

// NewSession builds a session from the config: engine backend, capture
// device, and sink paths. No files are opened and no audio flows until
// Start.
func NewSession(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rec := telemetry.NewRecorder(logger)

	eng, err := transcribe.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BlockMs:    cfg.Audio.BlockMs,
		QueueSize:  cfg.Audio.QueueSize,
		Device:     cfg.Audio.InputDevice,
	}, rec)
	if err != nil {
		eng.Close()
		return nil, err
	}

	return newSession(cfg, logger, capture, eng, rec), nil
}

// newSession wires a session from parts. Tests inject their own source and
// engine here.
func newSession(cfg *config.Config, logger *slog.Logger, src source, eng transcribe.Engine, rec *telemetry.Recorder) *Session {
	name := cfg.Output.SessionName
	if name == "" {
		name = time.Now().Format("20060102_150405")
	}

	// Retain well past one window so a stalled inference loop still finds
	// contiguous audio when it resumes.
	retain := 2 * cfg.Live.WindowSeconds
	if retain < 60 {
		retain = 60
	}

	s := &Session{
		cfg:            cfg,
		log:            logger.With("component", "live"),
		rec:            rec,
		id:             uuid.NewString(),
		name:           name,
		src:            src,
		engine:         eng,
		ring:           audio.NewRing(int(retain * float64(cfg.Audio.SampleRate))),
		joinTimeout:    defaultJoinTimeout,
		transcriptPath: filepath.Join(cfg.Output.Dir, name+".jsonl"),
	}
	if cfg.Output.WriteAudio {
		s.audioPath = filepath.Join(cfg.Output.Dir, name+".wav")
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Name returns the session name used for output files.
func (s *Session) Name() string { return s.name }

// TranscriptPath returns the JSONL transcript log path.
func (s *Session) TranscriptPath() string { return s.transcriptPath }

// AudioPath returns the session WAV path, or "" when audio persistence is
// disabled.
func (s *Session) AudioPath() string { return s.audioPath }

// Running reports whether the pipeline goroutines are active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start opens the output sinks, starts audio capture, and launches the
// writer and inference goroutines. An unavailable capture device is a
// definite failure; a sink that cannot open degrades the session instead
// (the transcript log excepted, which is the record of truth).
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("live: session already started")
	}

	if err := os.MkdirAll(s.cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("live: create output dir: %w", err)
	}

	s.start = time.Now()
	s.emitter = NewEmitter(s.start, time.Duration(s.cfg.Live.EpsilonMs)*time.Millisecond)

	jsonl, err := transcript.NewWriter(s.transcriptPath)
	if err != nil {
		return fmt.Errorf("live: open transcript log: %w", err)
	}
	s.jsonl = jsonl

	if s.audioPath != "" {
		wav, err := audio.NewWAVWriter(s.audioPath, s.cfg.Audio.SampleRate)
		if err != nil {
			s.log.Warn("audio file unavailable, continuing without audio", "path", s.audioPath, "error", err)
			s.audioPath = ""
		} else {
			s.wav = wav
		}
	}

	if s.cfg.Output.Store {
		s.openStore()
	}
	if s.cfg.Bus.Enabled {
		s.openBus()
	}

	if err := s.src.Start(); err != nil {
		s.teardown()
		return fmt.Errorf("live: start capture: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stop = make(chan struct{})
	s.wg.Add(2)
	go s.writerLoop()
	go s.inferLoop()
	s.running = true

	s.log.Info("session started",
		"session", s.name,
		"id", s.id,
		"transcript", s.transcriptPath,
		"audio", s.audioPath,
		"window_seconds", s.cfg.Live.WindowSeconds,
		"step_seconds", s.cfg.Live.StepSeconds,
	)
	return nil
}

// openStore attaches the SQLite session index. The store is an index, not
// the record of truth, so any failure degrades to running without it.
func (s *Session) openStore() {
	store, err := transcript.Open(filepath.Join(s.cfg.Output.Dir, StoreFile))
	if err != nil {
		s.rec.StoreError()
		s.log.Warn("session index unavailable, continuing without it", "error", err)
		return
	}
	err = store.CreateSession(transcript.Session{
		ID:             s.id,
		Name:           s.name,
		StartedAt:      s.start,
		SampleRate:     int(s.cfg.Audio.SampleRate),
		TranscriptPath: s.transcriptPath,
		AudioPath:      s.audioPath,
	})
	if err != nil {
		s.rec.StoreError()
		s.log.Warn("session index unavailable, continuing without it", "error", err)
		store.Close()
		return
	}
	s.store = store
}

// openBus starts the broadcast socket and announces the session so late
// subscribers still learn which session they joined.
func (s *Session) openBus() {
	socket := s.cfg.Bus.Socket
	if socket == "" {
		socket = filepath.Join(s.cfg.Output.Dir, DefaultSocketFile)
	}
	srv := bus.NewServer(socket, s.rec, s.log)
	if err := srv.Start(); err != nil {
		s.log.Warn("broadcast socket unavailable, continuing without it", "socket", socket, "error", err)
		return
	}
	srv.Announce(bus.Event{
		Event:         bus.EventSessionStarted,
		SessionID:     s.id,
		Session:       s.name,
		AbsoluteStart: s.start.Format(time.RFC3339Nano),
	})
	s.busSrv = srv
}

// Stop signals both goroutines, waits up to the join timeout for them to
// finish, and finalizes the sinks. A goroutine wedged in an engine call is
// abandoned rather than allowed to block shutdown. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// Stop the device first so the writer's final drain sees every block
	// the callback delivered.
	s.src.Stop()
	close(s.stop)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.joinTimeout):
		s.log.Warn("workers did not stop in time, abandoning", "timeout", s.joinTimeout)
	}

	if s.busSrv != nil {
		s.busSrv.Publish(bus.Event{
			Event:       bus.EventSessionEnded,
			SessionID:   s.id,
			Session:     s.name,
			AbsoluteEnd: time.Now().Format(time.RFC3339Nano),
		})
	}

	s.teardown()
	s.log.Info("session stopped",
		"session", s.name,
		"duration", time.Since(s.start).Round(time.Millisecond),
		"samples", s.samplesWritten.Load(),
		"emitted_through", s.emitter.LastEmitted(),
	)
	s.rec.LogSummary()
}

// teardown closes every sink and releases the engine and capture device.
// Safe on partially opened sessions.
func (s *Session) teardown() {
	if s.busSrv != nil {
		if err := s.busSrv.Close(); err != nil {
			s.log.Warn("broadcast socket close failed", "error", err)
		}
		s.busSrv = nil
	}
	if s.wav != nil {
		if err := s.wav.Close(); err != nil {
			s.log.Warn("audio file close failed", "error", err)
		} else {
			s.log.Info("audio saved", "path", s.audioPath, "samples", s.wav.Written())
		}
		s.wav = nil
	}
	if s.jsonl != nil {
		if err := s.jsonl.Close(); err != nil {
			s.log.Warn("transcript log close failed", "error", err)
		} else {
			s.log.Info("transcript saved", "path", s.transcriptPath)
		}
		s.jsonl = nil
	}
	if s.store != nil {
		if err := s.store.EndSession(s.id, time.Now()); err != nil {
			s.rec.StoreError()
			s.log.Warn("session index update failed", "error", err)
		}
		if err := s.store.Close(); err != nil {
			s.log.Warn("session index close failed", "error", err)
		}
		s.store = nil
	}
	if err := s.engine.Close(); err != nil {
		s.log.Warn("engine close failed", "error", err)
	}
	if err := s.src.Close(); err != nil {
		s.log.Warn("capture close failed", "error", err)
	}
}
