package portaudio

import (
	pa "github.com/gordonklaus/portaudio"

	"github.com/lorenzodonini/netmic/internal/audio"
)

// sampleBuffer holds the typed slice PortAudio reads into. PortAudio picks the
// stream's sample format from the slice type.
type sampleBuffer struct {
	format audio.SampleFormat
	f32    []float32
	i32    []int32
	i24    []pa.Int24
	i16    []int16
	i8     []int8
	u8     []uint8
}

func newSampleBuffer(format audio.SampleFormat, samples int) *sampleBuffer {
	b := &sampleBuffer{format: format}
	switch format {
	case audio.FormatFloat32:
		b.f32 = make([]float32, samples)
	case audio.FormatInt32:
		b.i32 = make([]int32, samples)
	case audio.FormatInt24:
		b.i24 = make([]pa.Int24, samples)
	case audio.FormatInt8:
		b.i8 = make([]int8, samples)
	case audio.FormatUInt8:
		b.u8 = make([]uint8, samples)
	default:
		b.i16 = make([]int16, samples)
	}
	return b
}

func (b *sampleBuffer) target() interface{} {
	switch b.format {
	case audio.FormatFloat32:
		return b.f32
	case audio.FormatInt32:
		return b.i32
	case audio.FormatInt24:
		return b.i24
	case audio.FormatInt8:
		return b.i8
	case audio.FormatUInt8:
		return b.u8
	default:
		return b.i16
	}
}

// encode copies the buffer into dst as little-endian interleaved samples
func (b *sampleBuffer) encode(dst audio.Frame) {
	size := b.format.BytesPerSample()
	switch b.format {
	case audio.FormatFloat32:
		for i, v := range b.f32 {
			audio.PutFloat32(dst[i*size:], v)
		}
	case audio.FormatInt32:
		for i, v := range b.i32 {
			audio.PutSample(dst[i*size:], b.format, int(v))
		}
	case audio.FormatInt24:
		for i, v := range b.i24 {
			copy(dst[i*size:i*size+size], v[:])
		}
	case audio.FormatInt8:
		for i, v := range b.i8 {
			dst[i] = byte(v)
		}
	case audio.FormatUInt8:
		copy(dst, b.u8)
	default:
		for i, v := range b.i16 {
			audio.PutSample(dst[i*size:], audio.FormatInt16, int(v))
		}
	}
}
