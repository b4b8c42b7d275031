package client

import "github.com/satriahrh/voxbridge/internal/audio"

// EncodeCapture converts a DeviceRate microphone frame to PCM16 at the
// provider's input rate. The returned level is the RMS of the resampled
// signal before quantization.
func EncodeCapture(frame []float32, rate int) ([]byte, float64) {
	resampled := audio.ResampleFloat(frame, DeviceRate, rate)
	return audio.Int16ToBytes(audio.FloatsToPCM16(resampled)), audio.RMS(resampled)
}
