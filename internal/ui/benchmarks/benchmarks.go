// Package benchmarks estimates stage durations from earlier runs of a
// pipeline.
package benchmarks

import (
	"sort"
	"time"

	"github.com/imamik/shipyard/internal/runstore"
)

// Timings maps a stage name to its expected duration.
type Timings map[string]time.Duration

// FromHistory returns, per stage, the median duration of the attempts that
// succeeded in history.
func FromHistory(history []*runstore.Record) Timings {
	samples := make(map[string][]time.Duration)
	for _, rec := range history {
		for _, s := range rec.Stages {
			if s.Status != runstore.StageSucceeded || s.Started.IsZero() || s.Finished.Before(s.Started) {
				continue
			}
			samples[s.Name] = append(samples[s.Name], s.Finished.Sub(s.Started))
		}
	}

	t := make(Timings, len(samples))
	for name, d := range samples {
		sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
		t[name] = d[len(d)/2]
	}
	return t
}

// Total returns the sum of all expected durations.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, d := range t {
		total += d
	}
	return total
}

// EstimateRemaining estimates how long the unfinished stages still need,
// scaled by how the finished ones compared to their expectation.
func EstimateRemaining(t Timings, stages []runstore.StageRecord, now time.Time) time.Duration {
	return EstimateRemainingWithScale(t, stages, now, PerformanceScale(t, stages, now))
}

// EstimateRemainingWithScale estimates the remaining time with a given
// performance scale. Stages without history count as zero.
func EstimateRemainingWithScale(t Timings, stages []runstore.StageRecord, now time.Time, scale float64) time.Duration {
	var remaining time.Duration
	for _, s := range stages {
		expected, ok := t[s.Name]
		if !ok || s.Status.Terminal() {
			continue
		}
		expected = time.Duration(float64(expected) * scale)
		switch s.Status {
		case runstore.StageRunning:
			if elapsed := now.Sub(s.Started); expected > elapsed {
				remaining += expected - elapsed
			}
		default:
			remaining += expected
		}
	}
	return remaining
}

// PerformanceScale derives a speed multiplier from observed-vs-expected durations.
// Example: expected 3m, observed 4m30s => scale=1.5 (future ETAs are stretched by 50%).
func PerformanceScale(t Timings, stages []runstore.StageRecord, now time.Time) float64 {
	var expectedTotal, actualTotal time.Duration

	for _, s := range stages {
		expected, ok := t[s.Name]
		if !ok {
			continue
		}
		switch s.Status {
		case runstore.StageSucceeded:
			expectedTotal += expected
			actualTotal += s.Finished.Sub(s.Started)
		case runstore.StageRunning:
			// Fold overruns in immediately so the ETA adapts quickly.
			if elapsed := now.Sub(s.Started); elapsed > expected {
				expectedTotal += expected
				actualTotal += elapsed
			}
		}
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}

	scale := float64(actualTotal) / float64(expectedTotal)
	if scale < 0.6 {
		return 0.6
	}
	if scale > 3.0 {
		return 3.0
	}
	return scale
}
