package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PutSample writes one integer sample into dst using the little-endian layout
// of format. value is interpreted at the format's bit depth (for UInt8 it is the
// unsigned 0..255 value). dst must hold at least format.BytesPerSample() bytes.
func PutSample(dst []byte, format SampleFormat, value int) error {
	switch format {
	case FormatInt32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(value)))
	case FormatInt24:
		v := uint32(int32(value))
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
	case FormatInt16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(value)))
	case FormatInt8:
		dst[0] = byte(int8(value))
	case FormatUInt8:
		dst[0] = byte(value)
	default:
		return fmt.Errorf("%w: %v is not an integer format", ErrUnsupportedFormat, format)
	}
	return nil
}

// PutFloat32 writes one IEEE-754 sample in little-endian order
func PutFloat32(dst []byte, value float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(value))
}

// EncodeInts packs integer samples into a frame of the given format
func EncodeInts(samples []int, format SampleFormat) (Frame, error) {
	size := format.BytesPerSample()
	frame := make(Frame, len(samples)*size)
	for i, s := range samples {
		if err := PutSample(frame[i*size:], format, s); err != nil {
			return nil, err
		}
	}
	return frame, nil
}
