package audio

import (
	"encoding/binary"
	"math"
)

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian PCM16
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FloatToPCM16 converts a sample in [-1,1] to int16. Out of range input is
// clamped and NaN is silence; negative values scale by 32768 and
// non-negative ones by 32767.
func FloatToPCM16(v float32) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	s := math.Max(-1, math.Min(1, float64(v)))
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// PCM16ToFloat is the inverse of FloatToPCM16
func PCM16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 0x8000
	}
	return float32(v) / 0x7fff
}

// FloatsToPCM16 converts a float buffer to PCM16 samples
func FloatsToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToPCM16(s)
	}
	return out
}

// PCM16ToFloats converts PCM16 samples to floats in [-1,1]
func PCM16ToFloats(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = PCM16ToFloat(s)
	}
	return out
}

// RMS returns the root-mean-square level of a float buffer, 0 for empty input
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
