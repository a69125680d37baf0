package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lorenzodonini/netmic/internal/audio"
	"github.com/lorenzodonini/netmic/internal/config"
	"github.com/lorenzodonini/netmic/internal/metrics"
	"github.com/lorenzodonini/netmic/internal/server"
	"github.com/lorenzodonini/netmic/internal/stream"
)

const (
	serviceName    = "netmic"
	serviceVersion = "1.0.0"
)

// options holds the command line flags; only flags that were set override the
// configuration file
type options struct {
	configPath string
	listInputs bool
	input      int
	port       int
	format     string
	rate       int
	channels   int
	buffer     int
	backend    string
	wavPath    string
	wavLoop    bool
	logLevel   string
}

func main() {
	if err := newRootCommand(&options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Stream a local audio input device to a TCP client",
		Long: "netmic captures raw PCM audio from an input device and streams it, unframed,\n" +
			"to one TCP client at a time.",
		Version:       serviceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
				return err
			}
			if opts.listInputs {
				return listDevices(cfg, os.Stdout)
			}
			return run(cfg, opts.configPath)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	flags.StringVar(&opts.backend, "backend", "", "audio backend: portaudio, miniaudio or wav")
	flags.StringVar(&opts.wavPath, "wav", "", "stream a WAV file instead of a device (implies --backend wav)")
	flags.BoolVar(&opts.wavLoop, "wav-loop", false, "restart the WAV file when it ends")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")

	local := rootCmd.Flags()
	local.BoolVarP(&opts.listInputs, "list-inputs", "l", false,
		"list the available audio input devices, so you may pass the correct one to the -i command")
	local.IntVarP(&opts.input, "input", "i", 0, "the index of the input device")
	local.IntVarP(&opts.port, "port", "p", 8347, "the TCP port to listen on")
	local.StringVarP(&opts.format, "format", "f", "Int16",
		"the audio input format (supported formats are Float32, Int32, Int24, Int16, Int8, UInt8)")
	local.IntVarP(&opts.rate, "rate", "r", 16000, "the sample rate")
	local.IntVarP(&opts.channels, "channels", "c", 1, "the number of input channels")
	local.IntVarP(&opts.buffer, "buffer", "b", 2048, "the audio buffer chunk size")

	rootCmd.AddCommand(devicesCommand(opts))

	return rootCmd
}

func devicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the available audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return listDevices(cfg, cmd.OutOrStdout())
		},
	}
}

// loadConfig reads the optional configuration file and applies explicitly set flags
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("input") {
		cfg.Audio.InputDevice = opts.input
	}
	if changed("port") {
		cfg.Server.Port = opts.port
	}
	if changed("format") {
		cfg.Audio.Format = opts.format
	}
	if changed("rate") {
		cfg.Audio.SampleRate = opts.rate
	}
	if changed("channels") {
		cfg.Audio.Channels = opts.channels
	}
	if changed("buffer") {
		cfg.Audio.ChunkSize = opts.buffer
	}
	if changed("backend") {
		cfg.Audio.Backend = opts.backend
	}
	if changed("wav") {
		cfg.Audio.WAVPath = opts.wavPath
		if !changed("backend") {
			cfg.Audio.Backend = "wav"
		}
	}
	if changed("wav-loop") {
		cfg.Audio.WAVLoop = opts.wavLoop
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, configPath string) error {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	params := streamParams(cfg.Audio, logger)

	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress()),
		slog.String("backend", cfg.Audio.Backend),
		slog.Int("input_device", params.DeviceIndex),
		slog.String("format", params.Format.String()),
		slog.Int("sample_rate", params.SampleRate),
		slog.Int("channels", params.Channels),
		slog.Int("chunk_size", params.ChunkSize),
		slog.Int("queue_capacity", cfg.Pipeline.QueueCapacity),
		slog.Duration("idle_timeout", cfg.Pipeline.GetIdleTimeoutDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	source, err := openSource(cfg.Audio, logger)
	if err != nil {
		logger.Error("Failed to initialize audio backend", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("Error releasing audio backend", slog.String("error", err.Error()))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	streamMgr, err := stream.NewManager(logger, stream.ManagerConfig{
		Source:        source,
		Params:        params,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		IdleTimeout:   cfg.Pipeline.GetIdleTimeoutDuration(),
		WriteTimeout:  cfg.Pipeline.GetWriteTimeoutDuration(),
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		return err
	}

	tcpServer := server.NewTCPServer(&cfg.Server, logger, streamMgr)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		server.Version = serviceVersion
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, streamMgr, tcpServer, appMetrics, registry)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := tcpServer.Start(); err != nil {
		logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Network server started", slog.String("address", tcpServer.Addr().String()))

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			_ = tcpServer.Stop()
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-tcpServer.Done():
		runErr = errors.New("TCP server stopped unexpectedly")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := tcpServer.Stop(); err != nil {
		logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}

	stats := tcpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("sessions_served", stats.SessionsServed),
		slog.Uint64("device_failures", stats.DeviceFailures),
		slog.Uint64("accept_errors", stats.AcceptErrors),
	)

	logger.Info("Network server stopped")
	return runErr
}

// streamParams converts the audio section into capture parameters. An unknown
// format name is not fatal: it falls back to Int16.
func streamParams(cfg config.AudioConfig, logger *slog.Logger) audio.StreamParams {
	format, err := audio.ParseFormat(cfg.Format)
	if err != nil {
		logger.Warn("Invalid audio format specified, will use default format",
			slog.String("format", cfg.Format),
			slog.String("default", audio.DefaultFormat.String()),
		)
		format = audio.DefaultFormat
	}

	return audio.StreamParams{
		DeviceIndex: cfg.InputDevice,
		Format:      format,
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		ChunkSize:   cfg.ChunkSize,
	}
}
