package live

import (
	"context"
	"errors"
	"time"

	"github.com/chaz8081/gostt-live/internal/bus"
	"github.com/chaz8081/gostt-live/internal/transcribe"
	"github.com/chaz8081/gostt-live/internal/transcript"
)

// inferLoop transcribes a sliding window of recent audio once per step.
// Every failure is absorbed at the tick boundary; the loop only exits on
// the stop signal.
func (s *Session) inferLoop() {
	defer s.wg.Done()

	step := time.Duration(s.cfg.Live.StepSeconds * float64(time.Second))
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	window := make([]float32, int(s.cfg.Live.WindowSeconds*float64(s.cfg.Audio.SampleRate)))
	opts := transcribe.OptionsFromConfig(&s.cfg.Engine)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.runWindow(window, opts)

		// A tick that queued up behind a slow engine call would fire
		// immediately; drop it so the next window starts a full beat
		// later instead of catching up.
		select {
		case <-ticker.C:
		default:
		}
	}
}

// runWindow executes one paced iteration: snapshot the sample counter, read
// the freshest window from the ring, transcribe it, and emit the new tail.
func (s *Session) runWindow(window []float32, opts transcribe.Options) {
	written := s.samplesWritten.Load()
	n := s.ring.ReadLast(window)
	if n < len(window)/2 {
		s.rec.WindowSkipped()
		s.log.Debug("not enough audio buffered", "have", n, "need", len(window)/2)
		return
	}

	// Session-relative second at which this window begins. The counter was
	// snapshotted before the ring read, so it never overshoots.
	windowStart := float64(written-int64(n)) / float64(s.cfg.Audio.SampleRate)
	if windowStart < 0 {
		windowStart = 0
	}

	res, err := s.transcribeWindow(window[:n], opts)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.rec.EngineError()
		s.rec.WindowSkipped()
		s.log.Warn("inference failed, skipping window", "error", err)
		return
	}

	s.rec.Window()
	s.log.Debug("window transcribed",
		"window_start", windowStart,
		"seconds", float64(n)/float64(s.cfg.Audio.SampleRate),
		"segments", len(res.Segments),
		"language", res.Language,
		"language_prob", res.LanguageProb,
	)

	if records := s.emitter.Process(res, windowStart); len(records) > 0 {
		s.emitRecords(records)
	}
}

// transcribeWindow calls the engine with the configured options, retrying
// once with the reduced set when the engine rejects the extended
// parameters.
func (s *Session) transcribeWindow(samples []float32, opts transcribe.Options) (transcribe.Result, error) {
	ctx := s.ctx
	cancel := context.CancelFunc(func() {})
	if d := s.cfg.Engine.Timeout(); d > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, d)
	}
	defer cancel()

	res, err := s.engine.Transcribe(ctx, samples, opts)
	if err == nil || !opts.Extended || !errors.Is(err, transcribe.ErrUnsupportedOption) {
		return res, err
	}

	if !s.reducedWarned {
		s.reducedWarned = true
		s.log.Warn("engine rejected extended options, retrying with reduced set", "error", err)
	} else {
		s.log.Debug("engine rejected extended options, retrying with reduced set")
	}
	return s.engine.Transcribe(ctx, samples, opts.Reduced())
}

// emitRecords routes finalized records to every sink. The transcript log is
// the record of truth and goes first; the index, the broadcast socket, and
// the notify hook are best effort.
func (s *Session) emitRecords(records []transcript.Record) {
	if err := s.jsonl.Append(records...); err != nil {
		s.log.Error("transcript append failed", "error", err)
	}

	for i := range records {
		rec := records[i]
		seq := s.seq
		s.seq++

		if s.store != nil {
			if err := s.store.AppendEmission(s.id, seq, rec); err != nil {
				s.rec.StoreError()
				s.log.Warn("session index append failed", "seq", seq, "error", err)
			}
		}
		if s.busSrv != nil {
			s.busSrv.Publish(bus.Event{
				Event:         bus.EventEmission,
				SessionID:     s.id,
				Session:       s.name,
				Seq:           bus.IntPtr(seq),
				Text:          rec.Text,
				Start:         bus.Float64Ptr(rec.Start),
				End:           bus.Float64Ptr(rec.End),
				AbsoluteStart: rec.AbsoluteStart.Format(time.RFC3339Nano),
				AbsoluteEnd:   rec.AbsoluteEnd.Format(time.RFC3339Nano),
			})
		}
		if s.Notify != nil {
			s.Notify(rec)
		}
		s.rec.Emission()
		s.log.Info("emit", "seq", seq, "start", rec.Start, "end", rec.End, "text", rec.Text)
	}
}
