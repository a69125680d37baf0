package audio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected SampleFormat
		bytes    int
		wantErr  bool
	}{
		{"float32", "Float32", FormatFloat32, 4, false},
		{"int32", "Int32", FormatInt32, 4, false},
		{"int24", "Int24", FormatInt24, 3, false},
		{"int16", "Int16", FormatInt16, 2, false},
		{"int8", "Int8", FormatInt8, 1, false},
		{"uint8", "UInt8", FormatUInt8, 1, false},
		{"case insensitive", "int16", FormatInt16, 2, false},
		{"unknown falls back", "Int64", DefaultFormat, 2, true},
		{"empty", "", DefaultFormat, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFormat(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("Expected ErrUnknownFormat, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if f != tt.expected {
				t.Errorf("Expected format %v, got %v", tt.expected, f)
			}

			if f.BytesPerSample() != tt.bytes {
				t.Errorf("Expected %d bytes per sample, got %d", tt.bytes, f.BytesPerSample())
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	if FormatInt24.String() != "Int24" {
		t.Errorf("Expected Int24, got %s", FormatInt24.String())
	}
	if !strings.HasPrefix(SampleFormat(42).String(), "SampleFormat(") {
		t.Errorf("Unexpected name for unknown format: %s", SampleFormat(42).String())
	}
}

func TestStreamParamsFrameSize(t *testing.T) {
	tests := []struct {
		name     string
		params   StreamParams
		expected int
	}{
		{"defaults", StreamParams{Format: FormatInt16, SampleRate: 16000, Channels: 1, ChunkSize: 2048}, 4096},
		{"stereo float", StreamParams{Format: FormatFloat32, SampleRate: 48000, Channels: 2, ChunkSize: 1024}, 8192},
		{"int24 mono", StreamParams{Format: FormatInt24, SampleRate: 44100, Channels: 1, ChunkSize: 100}, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.FrameSize(); got != tt.expected {
				t.Errorf("Expected frame size %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestStreamParamsFrameDuration(t *testing.T) {
	p := StreamParams{Format: FormatInt16, SampleRate: 16000, Channels: 1, ChunkSize: 1600}
	if p.FrameDuration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", p.FrameDuration())
	}
}

func TestStreamParamsValidate(t *testing.T) {
	valid := StreamParams{Format: FormatInt16, SampleRate: 16000, Channels: 1, ChunkSize: 2048}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid params, got %v", err)
	}

	invalid := []StreamParams{
		{Format: SampleFormat(99), SampleRate: 16000, Channels: 1, ChunkSize: 2048},
		{Format: FormatInt16, SampleRate: 0, Channels: 1, ChunkSize: 2048},
		{Format: FormatInt16, SampleRate: 16000, Channels: 0, ChunkSize: 2048},
		{Format: FormatInt16, SampleRate: 16000, Channels: 1, ChunkSize: 0},
		{Format: FormatInt16, SampleRate: 16000, Channels: 1, ChunkSize: 2048, DeviceIndex: -1},
	}
	for i, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Errorf("Case %d: expected validation error", i)
		}
	}
}

func TestEncodeInts(t *testing.T) {
	tests := []struct {
		name     string
		format   SampleFormat
		samples  []int
		expected []byte
	}{
		{"int16", FormatInt16, []int{1, -1}, []byte{0x01, 0x00, 0xff, 0xff}},
		{"int24", FormatInt24, []int{0x010203}, []byte{0x03, 0x02, 0x01}},
		{"int32", FormatInt32, []int{-2}, []byte{0xfe, 0xff, 0xff, 0xff}},
		{"int8", FormatInt8, []int{-128, 127}, []byte{0x80, 0x7f}},
		{"uint8", FormatUInt8, []int{0, 255}, []byte{0x00, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeInts(tt.samples, tt.format)
			if err != nil {
				t.Fatalf("EncodeInts failed: %v", err)
			}
			if !bytes.Equal(frame, tt.expected) {
				t.Errorf("Expected % x, got % x", tt.expected, []byte(frame))
			}
		})
	}

	if _, err := EncodeInts([]int{1}, FormatFloat32); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat for float, got %v", err)
	}
}

func TestWriteDevices(t *testing.T) {
	var buf bytes.Buffer
	devices := InputDevices([]DeviceInfo{
		{Index: 0, Name: "Speakers", MaxInputChannels: 0, DefaultSampleRate: 48000},
		{Index: 3, Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 44100},
	})

	if err := WriteDevices(&buf, devices); err != nil {
		t.Fatalf("WriteDevices failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "Speakers") {
		t.Error("Output-only device should have been filtered")
	}
	if !strings.Contains(out, "Device ID: 3\nName: USB Mic\nInput channels: 1\nDefaultSampleRate: 44100") {
		t.Errorf("Unexpected listing: %q", out)
	}

	buf.Reset()
	if err := WriteDevices(&buf, nil); err != nil {
		t.Fatalf("WriteDevices failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No audio input devices found") {
		t.Errorf("Expected empty-listing message, got %q", buf.String())
	}
}
