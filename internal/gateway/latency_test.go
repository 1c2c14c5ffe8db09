package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_Empty(t *testing.T) {
	p50, p95, p99 := NewLatencyTracker(100).Percentiles()
	assert.Zero(t, p50)
	assert.Zero(t, p95)
	assert.Zero(t, p99)
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(42.5)

	p50, p95, p99 := lt.Percentiles()
	assert.Equal(t, 42.5, p50)
	assert.Equal(t, 42.5, p95)
	assert.Equal(t, 42.5, p99)
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(1000)
	for i := 100; i >= 1; i-- {
		lt.Record(float64(i))
	}

	p50, p95, p99 := lt.Percentiles()
	assert.InDelta(t, 50.5, p50, 0.01)
	assert.InDelta(t, 95.05, p95, 0.01)
	assert.InDelta(t, 99.01, p99, 0.01)
}

func TestLatencyTracker_KeepsNewest(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(float64(i))
	}

	assert.Equal(t, 10, lt.Count())
	p50, _, _ := lt.Percentiles()
	assert.InDelta(t, 15.5, p50, 0.01)
}
