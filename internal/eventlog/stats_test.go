package eventlog

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	log := Assemble([]Event{at(0, 1), at(1, 1), at(2, 3), at(3, 7), at(4, 0)})

	s := log.Summarize()
	require.Equal(t, 5, s.Samples)
	assert.Equal(t, base, s.From)
	assert.Equal(t, base.Add(4*time.Second), s.To)
	assert.Equal(t, 5*time.Second, s.Duration)
	assert.Equal(t, 12, s.Total)
	assert.Equal(t, 7, s.Max)
	assert.InDelta(t, 2.4, s.MeanCPS, 1e-9)
	assert.InDelta(t, 144.0, s.MeanCPM, 1e-9)
	assert.InDelta(t, math.Sqrt(7.8), s.StdDev, 1e-9)

	assert.Equal(t, []ValueShare{
		{Value: 0, Count: 1, PerMille: 200},
		{Value: 1, Count: 2, PerMille: 400},
		{Value: 3, Count: 1, PerMille: 200},
		{Value: 7, Count: 1, PerMille: 200},
	}, s.Values)
	assert.Equal(t, []Event{at(3, 7)}, s.Highest)
}

func TestSummarize_SingleSample(t *testing.T) {
	s := Assemble([]Event{at(0, 4)}).Summarize()
	assert.Equal(t, 1, s.Samples)
	assert.Equal(t, 0.0, s.StdDev)
	assert.Equal(t, time.Second, s.Duration)
}
