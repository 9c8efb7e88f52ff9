package live

import (
	"math"
	"strings"
	"time"

	"github.com/chaz8081/gostt-live/internal/transcribe"
	"github.com/chaz8081/gostt-live/internal/transcript"
)

// Emitter reconciles overlapping inference windows into a forward-only
// transcript. Consecutive windows overlap by most of their length, so the
// engine keeps re-recognizing audio that was already transcribed; the
// emitter tracks the end time of the last emitted word and lets only words
// past that point through. Once a time region has been emitted its text is
// final: a later window that re-recognizes the same region differently is
// ignored, trading correction for stability.
//
// The emitter owns no I/O and is driven from the inference goroutine only.
type Emitter struct {
	start       time.Time // session start, anchors wall-clock conversion
	epsilon     float64   // boundary tolerance in seconds
	lastEmitted float64   // session-relative seconds, never decreases
}

// NewEmitter returns an emitter anchored at the session's wall-clock start.
// epsilon absorbs floating-point jitter at the emission boundary so a word
// ending exactly where the previous window left off is not emitted twice.
func NewEmitter(start time.Time, epsilon time.Duration) *Emitter {
	return &Emitter{
		start:   start,
		epsilon: epsilon.Seconds(),
	}
}

// LastEmitted returns the session-relative end of the newest emitted word,
// in seconds.
func (e *Emitter) LastEmitted() float64 {
	return e.lastEmitted
}

// Process folds one inference result into the transcript. windowStart is
// the session-relative second at which the transcribed window begins;
// adding it to the engine's window-relative offsets makes timestamps
// comparable across windows. Returns the records that became final, in
// segment order. A result that only re-covers already emitted audio yields
// nothing.
func (e *Emitter) Process(res transcribe.Result, windowStart float64) []transcript.Record {
	var records []transcript.Record
	for _, seg := range res.Segments {
		words, maxEnd := e.newWords(seg, windowStart)
		if len(words) == 0 {
			continue
		}

		texts := make([]string, len(words))
		for i, w := range words {
			texts[i] = w.Text
		}
		start := words[0].Start
		end := words[len(words)-1].End

		records = append(records, transcript.Record{
			Text:          strings.TrimSpace(strings.Join(texts, " ")),
			Start:         start,
			End:           end,
			AbsoluteStart: e.wallClock(start),
			AbsoluteEnd:   e.wallClock(end),
			Words:         words,
		})
		e.lastEmitted = maxEnd
	}
	return records
}

// newWords returns the words of seg that end past the emission boundary,
// shifted to session-relative time, plus the boundary's next value. When
// the engine produced no word timestamps the whole segment stands in as a
// single word.
func (e *Emitter) newWords(seg transcribe.Segment, windowStart float64) ([]transcript.WordRecord, float64) {
	cutoff := e.lastEmitted + e.epsilon
	maxEnd := e.lastEmitted

	if len(seg.Words) == 0 {
		segEnd := windowStart + math.Max(0, seg.End)
		if segEnd <= cutoff {
			return nil, maxEnd
		}
		segStart := windowStart + math.Max(0, seg.Start)
		word := transcript.WordRecord{Text: seg.Text, Start: segStart, End: segEnd}
		return []transcript.WordRecord{word}, math.Max(maxEnd, segEnd)
	}

	var words []transcript.WordRecord
	for _, w := range seg.Words {
		wEnd := windowStart + w.End
		if wEnd <= cutoff {
			continue
		}
		words = append(words, transcript.WordRecord{
			Text:        w.Text,
			Start:       windowStart + w.Start,
			End:         wEnd,
			Probability: w.Probability,
		})
		if wEnd > maxEnd {
			maxEnd = wEnd
		}
	}
	return words, maxEnd
}

func (e *Emitter) wallClock(rel float64) time.Time {
	return e.start.Add(time.Duration(rel * float64(time.Second)))
}
