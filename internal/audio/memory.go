package audio

import (
	"io"
	"sync"
	"time"
)

// MemorySource serves frames from memory. It stands in for a device in tests and
// when wiring the pipeline without hardware.
type MemorySource struct {
	// Frames are returned in order by every stream opened from this source
	Frames []Frame

	// Generate, when set, is called for reads past the end of Frames. It lets a
	// source produce an endless stream. Returning io.EOF ends the stream.
	Generate func(seq int) (Frame, error)

	// OpenErr is returned by Open when set
	OpenErr error

	// ReadDelay is slept before every read, imitating device buffering latency
	ReadDelay time.Duration

	mu     sync.Mutex
	opened int
	closed int
}

func (m *MemorySource) Name() string { return "memory" }

func (m *MemorySource) Close() error { return nil }

func (m *MemorySource) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{Index: 0, Name: "memory", MaxInputChannels: 2, DefaultSampleRate: 16000}}, nil
}

func (m *MemorySource) Open(params StreamParams) (Stream, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &memoryStream{src: m, done: make(chan struct{})}, nil
}

// Opened returns how many streams were opened
func (m *MemorySource) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Closed returns how many streams were closed
func (m *MemorySource) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type memoryStream struct {
	src  *MemorySource
	seq  int
	done chan struct{}
	once sync.Once
}

func (s *memoryStream) Read() (Frame, error) {
	if s.src.ReadDelay > 0 {
		select {
		case <-time.After(s.src.ReadDelay):
		case <-s.done:
			return nil, ErrStreamClosed
		}
	}

	seq := s.seq
	s.seq++
	if seq < len(s.src.Frames) {
		return s.src.Frames[seq], nil
	}
	if s.src.Generate != nil {
		return s.src.Generate(seq)
	}
	return nil, io.EOF
}

func (s *memoryStream) Stop() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *memoryStream) Close() error {
	s.Stop()
	s.src.mu.Lock()
	s.src.closed++
	s.src.mu.Unlock()
	return nil
}
