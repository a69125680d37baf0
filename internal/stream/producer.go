package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// ErrDeviceOpen wraps failures to open the input stream
var ErrDeviceOpen = errors.New("failed to open audio input device")

// maxReadRetryDelay caps the pause after a failed device read
const maxReadRetryDelay = 100 * time.Millisecond

// Producer is the capture loop of a session: it reads fixed-size frames from the
// input device and offers them to the queue until the recording state is cleared.
type Producer struct {
	source   audio.Source
	params   audio.StreamParams
	queue    *FrameQueue
	state    *RecordingState
	logger   *slog.Logger
	recorder Recorder

	captured   atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
}

// NewProducer creates a capture loop bound to one session's queue and state
func NewProducer(source audio.Source, params audio.StreamParams, queue *FrameQueue,
	state *RecordingState, logger *slog.Logger, recorder Recorder) *Producer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Producer{
		source:   source,
		params:   params,
		queue:    queue,
		state:    state,
		logger:   logger,
		recorder: recorder,
	}
}

// Run opens the input stream and captures until the recording state is cleared.
// An open failure clears the state with CauseDeviceFailure and is returned
// wrapped in ErrDeviceOpen; nothing else is returned as an error.
func (p *Producer) Run() error {
	p.logger.Debug("Will start recording",
		slog.Int("chunk_size", p.params.ChunkSize),
		slog.String("format", p.params.Format.String()),
		slog.Int("channels", p.params.Channels),
		slog.Int("sample_rate", p.params.SampleRate),
		slog.Int("input_device", p.params.DeviceIndex),
	)

	input, err := p.source.Open(p.params)
	if err != nil {
		p.state.Stop(CauseDeviceFailure)
		return fmt.Errorf("%w %d (%s): %w", ErrDeviceOpen, p.params.DeviceIndex, p.source.Name(), err)
	}

	p.logger.Info("Recording started",
		slog.String("backend", p.source.Name()),
		slog.Int("frame_bytes", p.params.FrameSize()),
	)

	p.captureLoop(input)

	if err := input.Stop(); err != nil {
		p.logger.Warn("Failed to stop input stream", slog.String("error", err.Error()))
	}
	if err := input.Close(); err != nil {
		p.logger.Warn("Failed to close input stream", slog.String("error", err.Error()))
	}

	p.logger.Info("Recording stopped",
		slog.Uint64("frames_captured", p.captured.Load()),
		slog.Uint64("frames_dropped", p.dropped.Load()),
		slog.Uint64("read_errors", p.readErrors.Load()),
	)
	return nil
}

func (p *Producer) captureLoop(input audio.Stream) {
	consecutiveErrors := 0

	for p.state.IsRecording() {
		frame, err := input.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, audio.ErrStreamClosed) {
				if p.state.Stop(CauseCaptureEnded) {
					p.logger.Info("Audio source has no more data")
				}
				return
			}

			consecutiveErrors++
			p.readErrors.Add(1)
			p.recorder.RecordDeviceReadError()
			if consecutiveErrors == 1 {
				p.logger.Warn("Skipping frame after device read error", slog.String("error", err.Error()))
			} else {
				p.logger.Debug("Skipping frame after device read error",
					slog.String("error", err.Error()),
					slog.Int("consecutive_errors", consecutiveErrors),
				)
			}
			p.backoff()
			continue
		}
		consecutiveErrors = 0

		p.captured.Add(1)
		p.recorder.RecordFrameCaptured()

		if p.queue.Push(frame) == Dropped {
			p.dropped.Add(1)
			p.recorder.RecordFrameDropped()
			p.logger.Warn("Audio queue is full, dropping frame",
				slog.Int("queue_capacity", p.queue.Cap()),
				slog.Uint64("frames_dropped", p.dropped.Load()),
			)
		}
		p.recorder.SetQueueDepth(p.queue.Len())
	}

	p.logger.Info("Will break recording loop", slog.String("cause", p.state.Cause().String()))
}

// backoff waits one frame duration, capped, so a failing device does not spin
func (p *Producer) backoff() {
	delay := p.params.FrameDuration()
	if delay <= 0 || delay > maxReadRetryDelay {
		delay = maxReadRetryDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.state.Done():
	}
}

// Captured returns the number of frames read from the device
func (p *Producer) Captured() uint64 { return p.captured.Load() }

// Dropped returns the number of frames discarded because the queue was full
func (p *Producer) Dropped() uint64 { return p.dropped.Load() }

// ReadErrors returns the number of skipped device reads
func (p *Producer) ReadErrors() uint64 { return p.readErrors.Load() }
