package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains TCP server configuration
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	Backend     string `yaml:"backend"` // portaudio, miniaudio or wav
	InputDevice int    `yaml:"input_device"`
	Format      string `yaml:"format"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	ChunkSize   int    `yaml:"chunk_size"` // samples per frame and channel

	WAVPath     string `yaml:"wav_path"`
	WAVLoop     bool   `yaml:"wav_loop"`
	WAVRealtime bool   `yaml:"wav_realtime"`
}

// PipelineConfig contains queue and session timing parameters
type PipelineConfig struct {
	QueueCapacity int     `yaml:"queue_capacity"`
	IdleTimeout   float64 `yaml:"idle_timeout"`  // seconds
	WriteTimeout  float64 `yaml:"write_timeout"` // seconds, 0 disables
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Backends accepted in audio.backend
var Backends = []string{"portaudio", "miniaudio", "wav"}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "0.0.0.0",
			Port:        8347,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Audio: AudioConfig{
			Backend:     "portaudio",
			InputDevice: 0,
			Format:      "Int16",
			SampleRate:  16000,
			Channels:    1,
			ChunkSize:   2048,
			WAVRealtime: true,
		},
		Pipeline: PipelineConfig{
			QueueCapacity: 20,
			IdleTimeout:   5,
			WriteTimeout:  0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file keep
// their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration. The sample format name is checked by
// the audio package, which also handles the fallback for unknown names.
func (a *AudioConfig) Validate() error {
	valid := false
	for _, b := range Backends {
		if a.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("backend must be one of [%s], got '%s'", strings.Join(Backends, ", "), a.Backend)
	}

	if a.InputDevice < 0 {
		return fmt.Errorf("input_device cannot be negative, got %d", a.InputDevice)
	}

	if a.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", a.Channels)
	}

	if a.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", a.ChunkSize)
	}

	if a.Backend == "wav" && a.WAVPath == "" {
		return fmt.Errorf("wav_path cannot be empty when backend is 'wav'")
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", p.QueueCapacity)
	}

	if p.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %f", p.IdleTimeout)
	}

	if p.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout cannot be negative, got %f", p.WriteTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// anything other than stdout or stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetIdleTimeoutDuration returns the idle timeout as a time.Duration
func (p *PipelineConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(p.IdleTimeout * float64(time.Second))
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (p *PipelineConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(p.WriteTimeout * float64(time.Second))
}

// ListenAddress returns the TCP address the audio server binds to
func (s *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}
