package audio

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Frame is one fixed-size chunk of raw interleaved samples produced by a single
// device read. A frame is never modified after it has been read.
type Frame []byte

var (
	// ErrNoDevice is returned when the requested input device does not exist
	ErrNoDevice = errors.New("no such input device")

	// ErrUnsupportedFormat is returned when a backend cannot capture in the requested format
	ErrUnsupportedFormat = errors.New("sample format not supported by backend")

	// ErrReadTimeout is returned by Stream.Read when no audio arrived within the
	// backend's read deadline. Callers treat it like any other skipped frame.
	ErrReadTimeout = errors.New("timed out waiting for audio data")

	// ErrStreamClosed is returned by Read after Stop or Close
	ErrStreamClosed = errors.New("stream closed")
)

// DeviceInfo describes an input device as reported by a backend
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("Device ID: %d\nName: %s\nInput channels: %d\nDefaultSampleRate: %.0f\n",
		d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
}

// Source is an audio backend able to open capture streams
type Source interface {
	// Name returns the backend name used in configuration
	Name() string

	// Devices lists the input-capable devices of this backend
	Devices() ([]DeviceInfo, error)

	// Open opens and starts an input stream. Failure here is a device-open
	// failure and aborts the session.
	Open(params StreamParams) (Stream, error)

	// Close releases the backend
	Close() error
}

// Stream is an open input stream. Read blocks for at most one device buffer and
// must not fail on device overruns; the overrun is absorbed and the read continues.
// io.EOF signals a finite source that has no more audio.
type Stream interface {
	Read() (Frame, error)
	Stop() error
	Close() error
}

// WriteDevices prints devices in the listing format used by the CLI
func WriteDevices(w io.Writer, devices []DeviceInfo) error {
	if len(devices) == 0 {
		_, err := io.WriteString(w, "No audio input devices found! Check your hardware and system settings\n")
		return err
	}

	var sb strings.Builder
	for _, d := range devices {
		sb.WriteString(d.String())
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// InputDevices keeps only devices with input channels. Indexes are left as the
// backend reported them.
func InputDevices(devices []DeviceInfo) []DeviceInfo {
	inputs := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return inputs
}
