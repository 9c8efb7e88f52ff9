package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/gostt-live/internal/audio"
	"github.com/chaz8081/gostt-live/internal/config"
	"github.com/chaz8081/gostt-live/internal/live"
	"github.com/chaz8081/gostt-live/internal/transcript"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-live/config.yaml)")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "writing config: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Printf("config already exists at %s, left untouched\n", config.DefaultConfigPath())
		} else {
			fmt.Printf("wrote %s\n", path)
		}
		return
	}

	if *listDevices {
		devices, err := audio.Devices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "listing devices: %v\n", err)
			os.Exit(1)
		}
		for _, d := range devices {
			marker := ""
			if d.Default {
				marker = " (default)"
			}
			fmt.Printf("%3d  %s%s\n", d.Index, d.Name, marker)
		}
		return
	}

	cfg, loadedFrom, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	if loadedFrom != "" {
		logger.Info("config loaded", "path", loadedFrom)
	} else {
		logger.Info("no config file found, using defaults")
	}

	printBanner(cfg)

	session, err := live.NewSession(cfg, logger)
	if err != nil {
		logger.Error("session setup failed", "error", err)
		os.Exit(1)
	}

	// Transcript lines go to stdout; everything else stays on stderr so the
	// output can be piped.
	session.Notify = func(rec transcript.Record) {
		fmt.Printf("[%s] %s\n", rec.AbsoluteStart.Format("15:04:05"), rec.Text)
	}

	if err := session.Start(); err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	session.Stop()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. Returns the path the
// config came from, or "" for built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	return config.Default(), "", nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	bus := "off"
	if cfg.Bus.Enabled {
		bus = "on"
	}
	audioOut := "off"
	if cfg.Output.WriteAudio {
		audioOut = "on"
	}
	fmt.Fprintln(os.Stderr, "=== gostt-live ===")
	fmt.Fprintf(os.Stderr, "  Engine:  %s (model %s, device %s)\n", cfg.Engine.Backend, cfg.Engine.Model, cfg.Engine.Device)
	fmt.Fprintf(os.Stderr, "  Audio:   %dHz, %dch, %dms blocks\n", cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BlockMs)
	fmt.Fprintf(os.Stderr, "  Window:  %gs every %gs\n", cfg.Live.WindowSeconds, cfg.Live.StepSeconds)
	fmt.Fprintf(os.Stderr, "  Output:  %s (audio %s, bus %s)\n", cfg.Output.Dir, audioOut, bus)
	fmt.Fprintf(os.Stderr, "  Log:     %s\n", cfg.LogLevel)
	fmt.Fprintln(os.Stderr, "==================")
}
