package device

import (
	"encoding/binary"
	"math"
)

const bytesPerSample = 4

// decodeF32 fills dst from little-endian float32 bytes and returns the
// number of samples written.
func decodeF32(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/bytesPerSample)
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*bytesPerSample:]))
	}
	return n
}

// encodeF32 writes samples as little-endian float32 bytes into dst, which
// must hold len(samples)*4 bytes.
func encodeF32(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*bytesPerSample:], math.Float32bits(s))
	}
}
