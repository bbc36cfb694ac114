package rtty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuningProbeNotReady(t *testing.T) {
	p := NewTuningProbe(1024)
	p.Feed(tone(2295, 8000, 512))
	_, ok := p.Measure(8000, 2295, 2125)
	assert.False(t, ok, "no measurement before a full window")
}

func TestTuningProbeToneDiscrimination(t *testing.T) {
	p := NewTuningProbe(1024)
	p.Feed(tone(2295, 8000, 2048))

	res, ok := p.Measure(8000, 2295, 2125)
	require.True(t, ok)
	assert.Greater(t, res.MarkPower, res.SpacePower+20,
		"mark tone must dominate the mark bin by well over 20 dB")
	assert.Len(t, res.Spectrum, 1024)

	// Feed a fresh probe the space tone; the query is unchanged.
	p2 := NewTuningProbe(1024)
	p2.Feed(tone(2125, 8000, 2048))
	res2, ok := p2.Measure(8000, 2295, 2125)
	require.True(t, ok)
	assert.Greater(t, res2.SpacePower, res2.MarkPower+20)
}

func TestTuningProbeNegativeFrequency(t *testing.T) {
	// Baseband tone pairs straddle DC.
	p := NewTuningProbe(1024)
	p.Feed(tone(-85, 8000, 1024))

	res, ok := p.Measure(8000, 85, -85)
	require.True(t, ok)
	assert.Greater(t, res.SpacePower, res.MarkPower+20)
}
