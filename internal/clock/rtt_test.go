package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimatorInitialRTO(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, InitialRTO, e.RTO())
}

func TestEstimatorFirstSampleSeeds(t *testing.T) {
	e := NewEstimator()
	rto := e.Observe(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, e.RTTEstimate())
	assert.Equal(t, time.Duration(0), e.RTTDeviation())
	assert.Equal(t, 200*time.Millisecond, rto)
}

func TestEstimatorBoundsAfterUpdate(t *testing.T) {
	e := NewEstimator()
	e.Observe(100 * time.Millisecond)
	rto := e.Observe(150 * time.Millisecond)

	// Invariant 7: rto must sit between rttEst and rttEst+4*rttDev (+ epsilon
	// for float rounding) after any update.
	assert.GreaterOrEqual(t, rto+time.Microsecond, e.RTTEstimate())
	assert.LessOrEqual(t, rto, e.RTTEstimate()+4*e.RTTDeviation()+time.Microsecond)
}

func TestEstimatorConvergesTowardStableSamples(t *testing.T) {
	e := NewEstimator()
	for i := 0; i < 50; i++ {
		e.Observe(100 * time.Millisecond)
	}
	assert.InDelta(t, float64(100*time.Millisecond), float64(e.RTTEstimate()), float64(time.Millisecond))
	assert.InDelta(t, 0, float64(e.RTTDeviation()), float64(time.Millisecond))
}
