package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lorenzodonini/netmic/internal/audio"
	"github.com/lorenzodonini/netmic/internal/audio/miniaudio"
	"github.com/lorenzodonini/netmic/internal/audio/portaudio"
	"github.com/lorenzodonini/netmic/internal/config"
)

// openSource initializes the configured audio backend
func openSource(cfg config.AudioConfig, logger *slog.Logger) (audio.Source, error) {
	switch cfg.Backend {
	case "portaudio":
		source, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		return source, nil
	case "miniaudio":
		source, err := miniaudio.New(logger.With(slog.String("component", "miniaudio")))
		if err != nil {
			return nil, err
		}
		return source, nil
	case "wav":
		return audio.NewWAVSource(cfg.WAVPath, cfg.WAVLoop, cfg.WAVRealtime), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// listDevices prints the input devices of the configured backend
func listDevices(cfg *config.Config, w io.Writer) error {
	logger := initLogger(cfg.Logging)

	source, err := openSource(cfg.Audio, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize audio backend: %v\n", err)
		return err
	}
	defer source.Close()

	devices, err := source.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enumerate audio devices: %v\n", err)
		return err
	}

	return audio.WriteDevices(w, audio.InputDevices(devices))
}
