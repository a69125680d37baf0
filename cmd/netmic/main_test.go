package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	netaudio "github.com/lorenzodonini/netmic/internal/audio"
)

func parseFlags(t *testing.T, args ...string) func() error {
	t.Helper()
	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags(args))
	return func() error {
		_, err := loadConfig(cmd, opts)
		return err
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, 8347, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Audio.InputDevice)
	assert.Equal(t, "Int16", cfg.Audio.Format)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 2048, cfg.Audio.ChunkSize)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netmic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
audio:
  sample_rate: 44100
  channels: 2
`), 0644))

	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "-p", "9100", "-i", "3", "-f", "Int24", "-b", "512"}))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 2, cfg.Audio.Channels)
	assert.Equal(t, 3, cfg.Audio.InputDevice)
	assert.Equal(t, "Int24", cfg.Audio.Format)
	assert.Equal(t, 512, cfg.Audio.ChunkSize)
}

func TestLoadConfigWavImpliesBackend(t *testing.T) {
	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--wav", "tone.wav", "--wav-loop"}))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "wav", cfg.Audio.Backend)
	assert.Equal(t, "tone.wav", cfg.Audio.WAVPath)
	assert.True(t, cfg.Audio.WAVLoop)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	load := parseFlags(t, "-c", "0")
	assert.Error(t, load())

	load = parseFlags(t, "-p", "70000")
	assert.Error(t, load())

	load = parseFlags(t, "--backend", "jack")
	assert.Error(t, load())
}

func TestStreamParamsUnknownFormatFallsBack(t *testing.T) {
	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"-f", "Float64", "-r", "8000"}))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	params := streamParams(cfg.Audio, logger)

	assert.Equal(t, netaudio.FormatInt16, params.Format)
	assert.Equal(t, 8000, params.SampleRate)
	assert.Contains(t, logs.String(), "Invalid audio format specified")
}

func TestListDevicesWAVBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 160),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--wav", path, "--log-level", "error"}))
	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, listDevices(cfg, &out))
	assert.Contains(t, out.String(), "Device ID: 0")
	assert.Contains(t, out.String(), "Input channels: 1")
}
