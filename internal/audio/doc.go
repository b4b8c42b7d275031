// Package audio holds the PCM helpers shared by the gateway recorder and the
// client connection manager: 16-bit little-endian PCM conversion, linear
// interpolation resampling and RMS metering.
package audio
