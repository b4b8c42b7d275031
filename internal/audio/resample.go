package audio

import "math"

// ResampleFloat converts between sample rates with linear interpolation.
// The output length is ceil(len(in) * to / from).
func ResampleFloat(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 {
		return in
	}
	if len(in) == 0 {
		return []float32{}
	}

	ratio := float64(from) / float64(to)
	out := make([]float32, int(math.Ceil(float64(len(in))/ratio)))
	last := len(in) - 1

	for i := range out {
		pos := float64(i) * ratio
		lo := int(math.Floor(pos))
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := pos - float64(lo)
		out[i] = float32(float64(in[lo])*(1-frac) + float64(in[hi])*frac)
	}

	return out
}

// ResampleInt16 converts PCM16 between sample rates with linear interpolation.
// The output length is round(len(in) * to / from).
func ResampleInt16(in []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return in
	}
	if len(in) == 0 {
		return []int16{}
	}

	ratio := float64(from) / float64(to)
	out := make([]int16, int(math.Round(float64(len(in))/ratio)))
	last := len(in) - 1

	for i := range out {
		pos := float64(i) * ratio
		lo := int(math.Floor(pos))
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := pos - float64(lo)
		v := math.Round(float64(in[lo])*(1-frac) + float64(in[hi])*frac)
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}

	return out
}
