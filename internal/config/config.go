package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Engine   EngineConfig `yaml:"engine"`
	Audio    AudioConfig  `yaml:"audio"`
	Live     LiveConfig   `yaml:"live"`
	Output   OutputConfig `yaml:"output"`
	Bus      BusConfig    `yaml:"bus"`
	LogLevel string       `yaml:"log_level"`
}

// EngineConfig selects and tunes the speech-to-text backend.
type EngineConfig struct {
	Backend           string  `yaml:"backend"` // "server", "exec", or "stub"
	URL               string  `yaml:"url"`     // server backend base URL
	Command           string  `yaml:"command"` // exec backend helper binary
	Model             string  `yaml:"model"`
	Device            string  `yaml:"device"` // "auto", "cpu", or "cuda"
	Language          string  `yaml:"language"`
	BeamSize          int     `yaml:"beam_size"`
	VADFilter         bool    `yaml:"vad_filter"`
	WordTimestamps    bool    `yaml:"word_timestamps"`
	Temperature       float64 `yaml:"temperature"`
	NoSpeechThreshold float64 `yaml:"no_speech_threshold"`
	LogProbThreshold  float64 `yaml:"logprob_threshold"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

// Timeout returns the engine call timeout as a duration.
func (e *EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate  uint32 `yaml:"sample_rate"`
	Channels    uint32 `yaml:"channels"`
	InputDevice string `yaml:"input_device"` // name substring or numeric index, empty = default
	BlockMs     int    `yaml:"block_ms"`     // capture block size in milliseconds
	QueueSize   int    `yaml:"queue_size"`   // hand-off queue capacity in blocks
}

// LiveConfig paces the inference loop.
type LiveConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"`
	StepSeconds   float64 `yaml:"step_seconds"`
	EpsilonMs     int     `yaml:"epsilon_ms"` // dedup tolerance
}

// OutputConfig controls durable session outputs.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	SessionName string `yaml:"session_name"` // empty = start-time stamp
	WriteAudio  bool   `yaml:"write_audio"`
	Store       bool   `yaml:"store"` // maintain the SQLite session index
}

// BusConfig controls the transcript broadcast socket.
type BusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Socket  string `yaml:"socket"` // unix socket path, empty = <output.dir>/gostt-live.sock
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-live")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend:           "server",
			URL:               "http://127.0.0.1:8000",
			Model:             "small",
			Device:            "auto",
			Language:          "",
			BeamSize:          1,
			VADFilter:         true,
			WordTimestamps:    true,
			Temperature:       0.0,
			NoSpeechThreshold: 0.6,
			LogProbThreshold:  -1.0,
			TimeoutSeconds:    30,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BlockMs:    50,
			QueueSize:  50,
		},
		Live: LiveConfig{
			WindowSeconds: 15.0,
			StepSeconds:   2.0,
			EpsilonMs:     20,
		},
		Output: OutputConfig{
			Dir:        "./live_transcripts",
			WriteAudio: true,
			Store:      true,
		},
		Bus: BusConfig{
			Enabled: false,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Output.Dir = expandTilde(cfg.Output.Dir)
	cfg.Bus.Socket = expandTilde(cfg.Bus.Socket)
	cfg.Engine.Command = expandTilde(cfg.Engine.Command)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case "server", "exec", "stub":
	default:
		return fmt.Errorf("engine.backend must be \"server\", \"exec\", or \"stub\", got %q", c.Engine.Backend)
	}

	if c.Engine.Backend == "server" && c.Engine.URL == "" {
		return fmt.Errorf("engine.url must not be empty for the server backend")
	}

	if c.Engine.Backend == "exec" && c.Engine.Command == "" {
		return fmt.Errorf("engine.command must not be empty for the exec backend")
	}

	if c.Engine.BeamSize < 1 {
		return fmt.Errorf("engine.beam_size must be >= 1, got %d", c.Engine.BeamSize)
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.BlockMs < 10 {
		return fmt.Errorf("audio.block_ms must be >= 10, got %d", c.Audio.BlockMs)
	}

	if c.Audio.QueueSize < 1 {
		return fmt.Errorf("audio.queue_size must be >= 1, got %d", c.Audio.QueueSize)
	}

	if c.Live.StepSeconds <= 0 {
		return fmt.Errorf("live.step_seconds must be > 0, got %g", c.Live.StepSeconds)
	}

	if c.Live.WindowSeconds <= c.Live.StepSeconds {
		return fmt.Errorf("live.window_seconds (%g) must be greater than live.step_seconds (%g)",
			c.Live.WindowSeconds, c.Live.StepSeconds)
	}

	if c.Live.EpsilonMs < 0 {
		return fmt.Errorf("live.epsilon_ms must be >= 0, got %d", c.Live.EpsilonMs)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level.
// Unknown values default to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes the default config to the default path if no config
// file exists there yet. Returns the written path, or "" if a file already
// existed and was left untouched.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# gostt-live configuration.\n# Values omitted here fall back to built-in defaults.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}

	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
