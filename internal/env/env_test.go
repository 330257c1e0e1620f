package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStr(t *testing.T) {
	t.Setenv("GW_TEST_STR", "value")
	assert.Equal(t, "value", Str("GW_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", Str("GW_TEST_STR_UNSET", "fallback"))
}

func TestInt(t *testing.T) {
	t.Setenv("GW_TEST_INT", "42")
	assert.Equal(t, 42, Int("GW_TEST_INT", 7))
	assert.Equal(t, 7, Int("GW_TEST_INT_UNSET", 7))

	t.Setenv("GW_TEST_INT_BAD", "not a number")
	assert.Equal(t, 7, Int("GW_TEST_INT_BAD", 7))
}

func TestFloat(t *testing.T) {
	t.Setenv("GW_TEST_FLOAT", "0.25")
	assert.InDelta(t, 0.25, Float("GW_TEST_FLOAT", 1.0), 1e-9)
	assert.InDelta(t, 1.0, Float("GW_TEST_FLOAT_UNSET", 1.0), 1e-9)

	t.Setenv("GW_TEST_FLOAT_BAD", "nope")
	assert.InDelta(t, 1.0, Float("GW_TEST_FLOAT_BAD", 1.0), 1e-9)
}
