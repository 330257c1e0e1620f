// Package audio holds PCM bookkeeping for the fixed wire format:
// 16kHz, mono, 16-bit little-endian linear PCM on both legs of a session.
package audio

// Wire format constants. Both the caller's microphone frames and the
// synthesized speech stream use this format end to end; no transcoding
// happens in the gateway.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	Channels       = 1

	// BytesPerSecond is the raw PCM byte rate of the wire format.
	BytesPerSecond = SampleRate * BytesPerSample * Channels
)

// Duration returns the playback duration in seconds of n bytes of PCM.
func Duration(n int) float64 {
	return float64(n) / float64(BytesPerSecond)
}

// Bytes returns the number of PCM bytes covering seconds of playback.
func Bytes(seconds float64) int {
	return int(seconds * float64(BytesPerSecond))
}
