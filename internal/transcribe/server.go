package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/gostt-live/internal/audio"
)

// ServerEngine talks to an OpenAI-compatible transcription server, such as a
// local faster-whisper server. Each window is posted as an in-memory WAV to
// /v1/audio/transcriptions with response_format=verbose_json.
type ServerEngine struct {
	baseURL    string
	model      string
	sampleRate uint32
	client     *http.Client
	log        *slog.Logger
}

// NewServerEngine creates a ServerEngine for the given base URL.
func NewServerEngine(baseURL, model string, sampleRate uint32, timeout time.Duration, logger *slog.Logger) *ServerEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ServerEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		sampleRate: sampleRate,
		client:     &http.Client{Timeout: timeout},
		log:        logger.With("component", "engine.server"),
	}
}

// verbose_json response shape shared by OpenAI and faster-whisper servers.
type serverResponse struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
	Text                string  `json:"text"`
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
func (e *ServerEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	wavData, err := audio.EncodeWAV(samples, e.sampleRate)
	if err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"model":           e.model,
		"response_format": "verbose_json",
		"temperature":     strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	}
	if opts.Language != "" && opts.Language != "auto" {
		fields["language"] = opts.Language
	}
	if opts.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(opts.BeamSize)
	}
	fields["vad_filter"] = strconv.FormatBool(opts.VADFilter)
	if opts.Extended {
		fields["no_speech_threshold"] = strconv.FormatFloat(opts.NoSpeechThreshold, 'f', -1, 64)
		fields["log_prob_threshold"] = strconv.FormatFloat(opts.LogProbThreshold, 'f', -1, 64)
		fields["condition_on_previous_text"] = strconv.FormatBool(opts.ConditionOnPrevious)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Result{}, fmt.Errorf("transcribe: building request: %w", err)
		}
	}
	if opts.WordTimestamps {
		for _, g := range []string{"word", "segment"} {
			if err := mw.WriteField("timestamp_granularities[]", g); err != nil {
				return Result{}, fmt.Errorf("transcribe: building request: %w", err)
			}
		}
	}

	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: building request: %w", err)
	}
	if _, err := fw.Write(wavData); err != nil {
		return Result{}, fmt.Errorf("transcribe: building request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("transcribe: building request: %w", err)
	}

	url := e.baseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: server call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// Servers without the faster-whisper extensions reject the request
		// outright; only the extended parameters trigger the reduced retry.
		if opts.Extended && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity) {
			return Result{}, fmt.Errorf("transcribe: server http %d: %s: %w",
				resp.StatusCode, strings.TrimSpace(string(snippet)), ErrUnsupportedOption)
		}
		return Result{}, fmt.Errorf("transcribe: server http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var sr serverResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("transcribe: decoding response: %w", err)
	}

	result := Result{
		Language:     sr.Language,
		LanguageProb: sr.LanguageProbability,
		Duration:     sr.Duration,
	}
	for _, s := range sr.Segments {
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
func (e *ServerEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
