package transcript

import (
	"encoding/json"
	"fmt"
	"os"
)

// Writer appends records to a JSONL transcript log, one JSON object per
// line. The file is opened in append mode, so restarting a session with the
// same name extends the log rather than truncating it.
type Writer struct {
	f    *os.File
	enc  *json.Encoder
	path string
}

// NewWriter opens path for appending, creating it if needed.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("transcript: opening log: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)

	return &Writer{f: f, enc: enc, path: path}, nil
}

// Append writes each record as one line. Records already written stay on
// disk even if a later one fails.
func (w *Writer) Append(recs ...Record) error {
	for _, rec := range recs {
		if err := w.enc.Encode(rec); err != nil {
			return fmt.Errorf("transcript: appending record: %w", err)
		}
	}
	return nil
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the log file.
func (w *Writer) Close() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("transcript: closing log: %w", err)
	}
	return nil
}
