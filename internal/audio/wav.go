package audio

import (
	"fmt"
	"io"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter persists float32 samples to a 16-bit PCM mono WAV file
// incrementally. Close finalizes the header; a file that was never closed has
// a stale length header but intact sample data.
type WAVWriter struct {
	f       *os.File
	enc     *wav.Encoder
	buf     *gaudio.IntBuffer
	written int
}

// NewWAVWriter creates path and prepares it for appending samples.
func NewWAVWriter(path string, sampleRate uint32) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: creating wav file: %w", err)
	}

	enc := wav.NewEncoder(f, int(sampleRate), 16, 1, 1)

	return &WAVWriter{
		f:   f,
		enc: enc,
		buf: &gaudio.IntBuffer{
			Format:         &gaudio.Format{NumChannels: 1, SampleRate: int(sampleRate)},
			SourceBitDepth: 16,
		},
	}, nil
}

// Write appends samples to the file, converting float32 to clamped int16.
func (w *WAVWriter) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		w.buf.Data[i] = float32ToInt16(s)
	}

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("audio: writing wav samples: %w", err)
	}
	w.written += len(samples)
	return nil
}

// Written returns the total number of samples written so far.
func (w *WAVWriter) Written() int {
	return w.written
}

// Close finalizes the WAV header and closes the file.
func (w *WAVWriter) Close() error {
	encErr := w.enc.Close()
	closeErr := w.f.Close()
	if encErr != nil {
		return fmt.Errorf("audio: finalizing wav: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("audio: closing wav file: %w", closeErr)
	}
	return nil
}

// EncodeWAV encodes samples as a complete in-memory 16-bit PCM mono WAV,
// suitable for handing a window to an external engine.
func EncodeWAV(samples []float32, sampleRate uint32) ([]byte, error) {
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, int(sampleRate), 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = float32ToInt16(s)
	}
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: int(sampleRate)},
		SourceBitDepth: 16,
		Data:           data,
	}

	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalizing wav: %w", err)
	}
	return ws.buf, nil
}

func float32ToInt16(s float32) int {
	v := int(s * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// writeSeeker is an in-memory io.WriteSeeker. The wav encoder needs to seek
// back over the header on Close, which io.Writer alone cannot offer.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.buf) {
		grown := make([]byte, need)
		copy(grown, ws.buf)
		ws.buf = grown
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = ws.pos + int(offset)
	case io.SeekEnd:
		next = len(ws.buf) + int(offset)
	default:
		return 0, fmt.Errorf("audio: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("audio: negative seek position")
	}
	ws.pos = next
	return int64(next), nil
}
