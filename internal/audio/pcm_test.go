package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuration(t *testing.T) {
	assert.InDelta(t, 1.0, Duration(32000), 1e-9)
	assert.InDelta(t, 0.5, Duration(16000), 1e-9)
	assert.InDelta(t, 0.128, Duration(4096), 1e-9)
	assert.Zero(t, Duration(0))
}

func TestBytes(t *testing.T) {
	assert.Equal(t, 32000, Bytes(1))
	assert.Equal(t, 8000, Bytes(0.25))
}

func TestBytesDurationRoundTrip(t *testing.T) {
	assert.InDelta(t, 2.5, Duration(Bytes(2.5)), 1e-9)
}
