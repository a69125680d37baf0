// Package portaudio captures audio through PortAudio's blocking read API.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// Source is the PortAudio backend. PortAudio is initialised once per Source and
// terminated by Close.
type Source struct {
	mu          sync.Mutex
	initialized bool
}

// New initialises PortAudio
func New() (*Source, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Source{initialized: true}, nil
}

func (s *Source) Name() string { return "portaudio" }

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	return pa.Terminate()
}

func (s *Source) Devices() ([]audio.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate PortAudio devices: %w", err)
	}

	infos := make([]audio.DeviceInfo, 0, len(devices))
	for i, d := range devices {
		infos = append(infos, audio.DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return infos, nil
}

// Open opens and starts an input stream on the device at params.DeviceIndex
func (s *Source) Open(params audio.StreamParams) (audio.Stream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate PortAudio devices: %w", err)
	}
	if params.DeviceIndex >= len(devices) {
		return nil, fmt.Errorf("%w: index %d, %d devices available", audio.ErrNoDevice, params.DeviceIndex, len(devices))
	}
	device := devices[params.DeviceIndex]
	if device.MaxInputChannels < params.Channels {
		return nil, fmt.Errorf("device %q supports %d input channels, requested %d",
			device.Name, device.MaxInputChannels, params.Channels)
	}

	buf := newSampleBuffer(params.Format, params.ChunkSize*params.Channels)

	streamParams := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   device,
			Channels: params.Channels,
			Latency:  device.DefaultHighInputLatency,
		},
		SampleRate:      float64(params.SampleRate),
		FramesPerBuffer: params.ChunkSize,
	}

	stream, err := pa.OpenStream(streamParams, buf.target())
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream on %q: %w", device.Name, err)
	}

	return &inputStream{stream: stream, buf: buf, frameSize: params.FrameSize()}, nil
}

type inputStream struct {
	stream    *pa.Stream
	buf       *sampleBuffer
	frameSize int

	stopOnce sync.Once
	stopErr  error
}

// Read blocks until PortAudio has filled one buffer. Input overflow is the
// device reporting lost samples; the data that was read is still returned.
func (s *inputStream) Read() (audio.Frame, error) {
	if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return nil, fmt.Errorf("failed to read input stream: %w", err)
	}
	frame := make(audio.Frame, s.frameSize)
	s.buf.encode(frame)
	return frame, nil
}

func (s *inputStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stream.Stop()
	})
	return s.stopErr
}

func (s *inputStream) Close() error {
	s.Stop()
	return s.stream.Close()
}
