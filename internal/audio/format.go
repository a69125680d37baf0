package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SampleFormat identifies the encoding of a single PCM sample on the wire
type SampleFormat int

const (
	FormatInt16 SampleFormat = iota
	FormatFloat32
	FormatInt32
	FormatInt24
	FormatInt8
	FormatUInt8
)

// DefaultFormat is used when no format, or an unknown one, is requested
const DefaultFormat = FormatInt16

// ErrUnknownFormat is returned by ParseFormat for names it does not recognise
var ErrUnknownFormat = errors.New("unknown sample format")

var formatNames = map[SampleFormat]string{
	FormatFloat32: "Float32",
	FormatInt32:   "Int32",
	FormatInt24:   "Int24",
	FormatInt16:   "Int16",
	FormatInt8:    "Int8",
	FormatUInt8:   "UInt8",
}

// ParseFormat converts a format name (Float32, Int32, Int24, Int16, Int8, UInt8)
// into a SampleFormat. Matching is case-insensitive.
func ParseFormat(name string) (SampleFormat, error) {
	for f, n := range formatNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return DefaultFormat, fmt.Errorf("%w: %q (supported: Float32, Int32, Int24, Int16, Int8, UInt8)", ErrUnknownFormat, name)
}

func (f SampleFormat) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// BytesPerSample returns the size of one sample of one channel
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatFloat32, FormatInt32:
		return 4
	case FormatInt24:
		return 3
	case FormatInt16:
		return 2
	case FormatInt8, FormatUInt8:
		return 1
	default:
		return 0
	}
}

// BitDepth returns the number of significant bits per sample
func (f SampleFormat) BitDepth() int {
	return f.BytesPerSample() * 8
}

// StreamParams describes how an input stream is opened and how large each
// frame read from it is.
type StreamParams struct {
	DeviceIndex int
	Format      SampleFormat
	SampleRate  int
	Channels    int
	ChunkSize   int // sample frames per read
}

// Validate checks that the parameters describe a usable stream
func (p StreamParams) Validate() error {
	if p.Format.BytesPerSample() == 0 {
		return fmt.Errorf("invalid sample format %v", p.Format)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", p.Channels)
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", p.ChunkSize)
	}
	if p.DeviceIndex < 0 {
		return fmt.Errorf("device index cannot be negative, got %d", p.DeviceIndex)
	}
	return nil
}

// FrameSize returns the number of bytes in one frame:
// chunk size × bytes per sample × channels.
func (p StreamParams) FrameSize() int {
	return p.ChunkSize * p.Format.BytesPerSample() * p.Channels
}

// FrameDuration returns how much audio a single frame holds
func (p StreamParams) FrameDuration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.ChunkSize) * time.Second / time.Duration(p.SampleRate)
}
