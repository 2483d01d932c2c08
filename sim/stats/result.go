// Package stats implements the batch-means statistics engine.
//
// A Result collects raw observations for the current batch; Accumulate folds
// the batch into running aggregates and starts a new one. Means, variances
// and confidence half-widths are computed over the batch means.
package stats

import (
	"fmt"
	"math"
)

// Kind selects how raw observations are folded into a batch mean.
type Kind int

const (
	// KindSample averages discrete observations (e.g. response times).
	KindSample Kind = iota
	// KindVariable time-averages a piecewise-constant value (e.g. the
	// number of busy servers) over the batch length.
	KindVariable
)

// varianceNoise is the magnitude below which a negative variance is
// treated as rounding error and clamped to zero.
const varianceNoise = 0.1

// Result is a batch-means accumulator.
//
// Thread-safety: NOT thread-safe. Only the single active simulation process
// may record into a Result.
type Result struct {
	Name string
	kind Kind

	// raw batch
	rawSum    float64
	rawSumSqr float64
	rawCount  float64
	value     float64 // current level (KindVariable)
	last      float64 // time of the last level change (KindVariable)
	start     float64 // batch start time (KindVariable)

	// aggregates over batches
	sum      float64
	sumSqr   float64
	countSum float64
	countSqr float64
	varSum   float64
	n        int
}

// NewSample creates a Result that averages observations.
func NewSample(name string) *Result {
	return &Result{Name: name, kind: KindSample}
}

// NewVariable creates a Result that time-averages a level.
func NewVariable(name string) *Result {
	return &Result{Name: name, kind: KindVariable}
}

// Kind reports how the result folds observations.
func (r *Result) Kind() Kind { return r.kind }

// Record adds one observation to the current batch.
func (r *Result) Record(v float64) {
	r.rawSum += v
	r.rawSumSqr += v * v
	r.rawCount++
}

// Set changes the level of a KindVariable result at time now.
func (r *Result) Set(now, v float64) {
	r.integrate(now)
	r.value = v
	r.rawCount++
}

// Add shifts the level of a KindVariable result by delta at time now.
func (r *Result) Add(now, delta float64) {
	r.Set(now, r.value+delta)
}

// Level returns the current level of a KindVariable result.
func (r *Result) Level() float64 { return r.value }

func (r *Result) integrate(now float64) {
	if now > r.last {
		d := now - r.last
		r.rawSum += r.value * d
		r.rawSumSqr += r.value * r.value * d
	}
	r.last = now
}

// Reset discards the current batch, keeping the running aggregates and the
// current level. It is used at the end of the warm-up period.
func (r *Result) Reset(now float64) {
	r.rawSum, r.rawSumSqr, r.rawCount = 0, 0, 0
	r.last, r.start = now, now
}

// ResetStats discards everything.
func (r *Result) ResetStats() {
	*r = Result{Name: r.Name, kind: r.kind}
}

// Accumulate closes the current batch at time now, folds its mean and count
// into the aggregates and resets the raw counters.
func (r *Result) Accumulate(now float64) {
	var mean, within float64
	switch r.kind {
	case KindVariable:
		r.integrate(now)
		if d := now - r.start; d > 0 {
			mean = r.rawSum / d
			within = math.Max(r.rawSumSqr/d-mean*mean, 0)
		}
	default:
		if r.rawCount > 0 {
			mean = r.rawSum / r.rawCount
		}
		if r.rawCount > 1 {
			within = math.Max((r.rawSumSqr-r.rawSum*r.rawSum/r.rawCount)/(r.rawCount-1), 0)
		}
	}
	r.sum += mean
	r.sumSqr += mean * mean
	r.countSum += r.rawCount
	r.countSqr += r.rawCount * r.rawCount
	r.varSum += within
	r.n++
	r.Reset(now)
}

// Batches returns the number of accumulated batches.
func (r *Result) Batches() int { return r.n }

// Mean returns the mean of the batch means.
func (r *Result) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}

// Variance returns the unbiased variance of the batch means; 0 for fewer
// than two batches. A variance below -0.1 indicates corrupted aggregates
// and panics.
func (r *Result) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	n := float64(r.n)
	v := (r.sumSqr - r.sum*r.sum/n) / (n - 1)
	if isNoise(v, r.sumSqr/n) {
		return 0
	}
	if v < 0 {
		if v < -varianceNoise {
			panic(fmt.Sprintf("stats: negative variance %g for %q", v, r.Name))
		}
		return 0
	}
	return v
}

// isNoise reports whether v is rounding error relative to the mean square
// it was computed from.
func isNoise(v, meanSqr float64) bool {
	return math.Abs(v) <= 1e-12*math.Max(1, meanSqr)
}

// StdDev returns the standard deviation of the batch means.
func (r *Result) StdDev() float64 { return math.Sqrt(r.Variance()) }

// Confidence returns the half-width of the confidence interval of the mean
// at the given level.
func (r *Result) Confidence(level Level) float64 {
	if r.n < 2 {
		return 0
	}
	return StudentT(level, r.n-1) * math.Sqrt(r.Variance()/float64(r.n))
}

// MeanCount returns the mean number of observations per batch.
func (r *Result) MeanCount() float64 {
	if r.n == 0 {
		return 0
	}
	return r.countSum / float64(r.n)
}

// CountVariance returns the unbiased variance of the per-batch counts.
func (r *Result) CountVariance() float64 {
	if r.n < 2 {
		return 0
	}
	n := float64(r.n)
	v := (r.countSqr - r.countSum*r.countSum/n) / (n - 1)
	if isNoise(v, r.countSqr/n) {
		return 0
	}
	if v < 0 {
		if v < -varianceNoise {
			panic(fmt.Sprintf("stats: negative count variance %g for %q", v, r.Name))
		}
		return 0
	}
	return v
}

// Throughput returns observations per unit time for batches of the given
// length.
func (r *Result) Throughput(period float64) float64 {
	if period <= 0 {
		return 0
	}
	return r.MeanCount() / period
}

// ThroughputConfidence returns the half-width of the throughput confidence
// interval.
func (r *Result) ThroughputConfidence(level Level, period float64) float64 {
	if r.n < 2 || period <= 0 {
		return 0
	}
	return StudentT(level, r.n-1) * math.Sqrt(r.CountVariance()/float64(r.n)) / period
}

// SampleVariance returns the mean within-batch variance of observations.
func (r *Result) SampleVariance() float64 {
	if r.n == 0 {
		return 0
	}
	return r.varSum / float64(r.n)
}

// SquaredCV returns the squared coefficient of variation of observations.
func (r *Result) SquaredCV() float64 {
	m := r.Mean()
	if m == 0 {
		return 0
	}
	return r.SampleVariance() / (m * m)
}

// Finite reports whether the mean and variance are finite numbers.
func (r *Result) Finite() bool {
	for _, v := range []float64{r.Mean(), r.sumSqr, r.varSum} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
