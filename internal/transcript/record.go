// Package transcript persists emitted transcript records: an append-only
// JSONL log plus an optional SQLite store for querying past sessions.
package transcript

import "time"

// WordRecord is one recognized word inside a Record. Start and End are
// seconds since session start.
type WordRecord struct {
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability,omitempty"`
}

// Record is one emission: a unit of newly finalized transcript text that is
// guaranteed not to repeat previously released text. Start and End are
// seconds since session start; AbsoluteStart and AbsoluteEnd are the
// corresponding wall-clock times.
type Record struct {
	Text          string       `json:"text"`
	Start         float64      `json:"start"`
	End           float64      `json:"end"`
	AbsoluteStart time.Time    `json:"absolute_start"`
	AbsoluteEnd   time.Time    `json:"absolute_end"`
	Words         []WordRecord `json:"words"`
}
