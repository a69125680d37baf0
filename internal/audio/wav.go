package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a PCM WAV file as if it were an input device. The file must
// already match the requested sample rate, channel count and bit depth; no
// conversion is performed.
type WAVSource struct {
	path     string
	loop     bool
	realtime bool
}

// NewWAVSource creates a WAV-backed source. With loop set the file restarts at
// the end instead of reporting io.EOF; with realtime set reads are paced at the
// frame duration like a real device.
func NewWAVSource(path string, loop, realtime bool) *WAVSource {
	return &WAVSource{path: path, loop: loop, realtime: realtime}
}

func (s *WAVSource) Name() string { return "wav" }

func (s *WAVSource) Close() error { return nil }

// Devices reports the file as the single device with index 0
func (s *WAVSource) Devices() ([]DeviceInfo, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file %s: %w", s.path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", s.path)
	}

	return []DeviceInfo{{
		Index:             0,
		Name:              s.path,
		MaxInputChannels:  int(decoder.NumChans),
		DefaultSampleRate: float64(decoder.SampleRate),
	}}, nil
}

// Open validates the file against params and positions it at the first sample
func (s *WAVSource) Open(params StreamParams) (Stream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.DeviceIndex != 0 {
		return nil, fmt.Errorf("%w: index %d (WAV source only has device 0)", ErrNoDevice, params.DeviceIndex)
	}
	if params.Format == FormatFloat32 {
		return nil, fmt.Errorf("%w: %v from WAV", ErrUnsupportedFormat, params.Format)
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file %s: %w", s.path, err)
	}

	decoder, err := openPCM(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	if int(decoder.SampleRate) != params.SampleRate {
		file.Close()
		return nil, fmt.Errorf("WAV sample rate %d does not match requested %d", decoder.SampleRate, params.SampleRate)
	}
	if int(decoder.NumChans) != params.Channels {
		file.Close()
		return nil, fmt.Errorf("WAV has %d channels, requested %d", decoder.NumChans, params.Channels)
	}
	if int(decoder.BitDepth) != params.Format.BitDepth() {
		file.Close()
		return nil, fmt.Errorf("%w: WAV bit depth %d does not match %v", ErrUnsupportedFormat, decoder.BitDepth, params.Format)
	}

	samples := params.ChunkSize * params.Channels
	stream := &wavStream{
		file:    file,
		decoder: decoder,
		params:  params,
		loop:    s.loop,
		buf: &goaudio.IntBuffer{
			Data:   make([]int, samples),
			Format: &goaudio.Format{SampleRate: params.SampleRate, NumChannels: params.Channels},
		},
		done: make(chan struct{}),
	}
	if s.realtime {
		stream.ticker = time.NewTicker(params.FrameDuration())
	}
	return stream, nil
}

func openPCM(file *os.File) (*wav.Decoder, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.New("input is not a valid WAV audio file")
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate WAV PCM data: %w", err)
	}
	return decoder, nil
}

type wavStream struct {
	file    *os.File
	decoder *wav.Decoder
	params  StreamParams
	loop    bool
	buf     *goaudio.IntBuffer
	ticker  *time.Ticker

	done      chan struct{}
	closeOnce sync.Once
}

func (s *wavStream) Read() (Frame, error) {
	select {
	case <-s.done:
		return nil, ErrStreamClosed
	default:
	}

	if s.ticker != nil {
		select {
		case <-s.ticker.C:
		case <-s.done:
			return nil, ErrStreamClosed
		}
	}

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV samples: %w", err)
	}

	if n == 0 {
		if !s.loop {
			return nil, io.EOF
		}
		if err := s.rewind(); err != nil {
			return nil, err
		}
		if n, err = s.decoder.PCMBuffer(s.buf); err != nil {
			return nil, fmt.Errorf("failed to read WAV samples: %w", err)
		}
		if n == 0 {
			return nil, io.EOF
		}
	}

	samples := s.buf.Data[:n]
	if s.params.Format == FormatInt8 {
		// go-audio reports 8-bit WAV data unsigned
		signed := make([]int, n)
		for i, v := range samples {
			signed[i] = v - 128
		}
		samples = signed
	}

	frame, err := EncodeInts(samples, s.params.Format)
	if err != nil {
		return nil, err
	}
	return padFrame(frame, s.params), nil
}

// padFrame extends a short trailing frame with silence so every frame has the
// configured size.
func padFrame(frame Frame, params StreamParams) Frame {
	size := params.FrameSize()
	if len(frame) >= size {
		return frame
	}
	padded := make(Frame, size)
	copy(padded, frame)
	if params.Format == FormatUInt8 {
		for i := len(frame); i < size; i++ {
			padded[i] = 0x80
		}
	}
	return padded
}

func (s *wavStream) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}
	decoder, err := openPCM(s.file)
	if err != nil {
		return err
	}
	s.decoder = decoder
	return nil
}

func (s *wavStream) Stop() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	return nil
}

func (s *wavStream) Close() error {
	s.Stop()
	return s.file.Close()
}
