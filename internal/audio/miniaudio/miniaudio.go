// Package miniaudio captures audio through miniaudio (malgo). miniaudio delivers
// samples on a callback; the callback writes into a ring buffer that Read drains
// one frame at a time.
package miniaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/lorenzodonini/netmic/internal/audio"
)

const (
	// bufferedFrames is how many frames the ring buffer holds before the
	// callback starts discarding device data
	bufferedFrames = 8

	// readTimeout bounds a single Read so the capture loop can observe a stop
	// even when the device has gone silent
	readTimeout = time.Second
)

// Source is the miniaudio backend
type Source struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

// New initialises a miniaudio context using the platform's default backends
func New(logger *slog.Logger) (*Source, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", slog.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	return &Source{ctx: ctx, logger: logger}, nil
}

func (s *Source) Name() string { return "miniaudio" }

func (s *Source) Close() error {
	err := s.ctx.Uninit()
	s.ctx.Free()
	return err
}

func (s *Source) Devices() ([]audio.DeviceInfo, error) {
	infos, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]audio.DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, audio.DeviceInfo{
			Index:            i,
			Name:             info.Name(),
			MaxInputChannels: 1,
		})
	}
	return devices, nil
}

func malgoFormat(f audio.SampleFormat) (malgo.FormatType, error) {
	switch f {
	case audio.FormatFloat32:
		return malgo.FormatF32, nil
	case audio.FormatInt32:
		return malgo.FormatS32, nil
	case audio.FormatInt24:
		return malgo.FormatS24, nil
	case audio.FormatInt16:
		return malgo.FormatS16, nil
	case audio.FormatUInt8:
		return malgo.FormatU8, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: miniaudio cannot capture %v", audio.ErrUnsupportedFormat, f)
	}
}

// Open initialises and starts a capture device
func (s *Source) Open(params audio.StreamParams) (audio.Stream, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	format, err := malgoFormat(params.Format)
	if err != nil {
		return nil, err
	}

	infos, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	if params.DeviceIndex >= len(infos) {
		return nil, fmt.Errorf("%w: index %d, %d devices available", audio.ErrNoDevice, params.DeviceIndex, len(infos))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(params.Channels)
	deviceConfig.Capture.DeviceID = infos[params.DeviceIndex].ID.Pointer()
	deviceConfig.SampleRate = uint32(params.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(params.ChunkSize)
	deviceConfig.Alsa.NoMMap = 1

	stream := &captureStream{
		ring:      ringbuffer.New(params.FrameSize() * bufferedFrames),
		frameSize: params.FrameSize(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    s.logger,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: stream.onData,
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device %q: %w", infos[params.DeviceIndex].Name(), err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start capture device %q: %w", infos[params.DeviceIndex].Name(), err)
	}
	stream.device = device

	return stream, nil
}

type captureStream struct {
	device    *malgo.Device
	ring      *ringbuffer.RingBuffer
	frameSize int
	notify    chan struct{}
	done      chan struct{}
	logger    *slog.Logger

	overruns atomic.Uint64
	stopOnce sync.Once
}

// onData runs on miniaudio's thread and must not block. When the ring buffer
// cannot take the whole period the period is discarded.
func (s *captureStream) onData(_, input []byte, _ uint32) {
	if s.ring.Free() < len(input) {
		if n := s.overruns.Add(1); n == 1 || n%100 == 0 {
			s.logger.Debug("Capture ring buffer overrun, discarding device data",
				slog.Int("bytes", len(input)),
				slog.Uint64("overruns", n),
			)
		}
		return
	}
	if _, err := s.ring.Write(input); err != nil {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Read waits until a whole frame is buffered
func (s *captureStream) Read() (audio.Frame, error) {
	deadline := time.NewTimer(readTimeout)
	defer deadline.Stop()

	for s.ring.Length() < s.frameSize {
		select {
		case <-s.notify:
		case <-s.done:
			return nil, audio.ErrStreamClosed
		case <-deadline.C:
			return nil, audio.ErrReadTimeout
		}
	}

	frame := make(audio.Frame, s.frameSize)
	if _, err := s.ring.Read(frame); err != nil {
		return nil, fmt.Errorf("failed to read capture buffer: %w", err)
	}
	return frame, nil
}

func (s *captureStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		err = s.device.Stop()
	})
	return err
}

func (s *captureStream) Close() error {
	err := s.Stop()
	s.device.Uninit()
	return err
}
