package sensor

import (
	"math"
	"time"
)

const (
	// Stable when FPS stddev < 15% of mean FPS.
	fpsStabilityThreshold = 0.15
	// Stable when mean jitter < 20% of the expected frame interval.
	jitterStabilityThreshold = 0.20
)

// CalculateFPSStats computes warm-up statistics from capture timestamps in
// nanoseconds, observed over window.
//
// Algorithm:
//  1. Mean FPS = frames / window
//  2. Instantaneous FPS per positive interval; min, max, stddev around the mean
//  3. Jitter = |interval - 1/mean| per interval; mean, stddev, max
//  4. Stable when both thresholds hold
//
// Fewer than two timestamps, or no positive interval, is never stable.
func CalculateFPSStats(timestamps []int64, window time.Duration) *WarmupStats {
	n := len(timestamps)
	stats := &WarmupStats{FramesReceived: n, Duration: window}
	if n == 0 || window <= 0 {
		return stats
	}
	stats.FPSMean = float64(n) / window.Seconds()

	intervals := make([]float64, 0, n-1)
	instant := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		dt := float64(timestamps[i]-timestamps[i-1]) / float64(time.Second)
		intervals = append(intervals, dt)
		if dt > 0 {
			instant = append(instant, 1/dt)
		}
	}
	if len(instant) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instant[0], instant[0]
	for _, fps := range instant {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = deviation(instant, stats.FPSMean)

	expected := 1 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	for i, dt := range intervals {
		jitters[i] = math.Abs(dt - expected)
		stats.JitterMax = math.Max(stats.JitterMax, jitters[i])
	}
	stats.JitterMean = mean(jitters)
	stats.JitterStdDev = deviation(jitters, stats.JitterMean)

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// deviation is the root mean square distance of xs from center.
func deviation(xs []float64, center float64) float64 {
	var sum float64
	for _, x := range xs {
		d := x - center
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
