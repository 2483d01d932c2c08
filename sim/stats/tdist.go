package stats

import "math"

// Level is a two-sided confidence level.
type Level int

const (
	Level95 Level = 95
	Level99 Level = 99
)

// tTable holds two-sided Student-t critical values. Index i is for
// i+1 degrees of freedom, so a Result with n batches reads index n-2.
var tTable = map[Level][]float64{
	Level95: {
		12.706, 4.303, 3.182, 2.776, 2.571, 2.447, 2.365, 2.306, 2.262, 2.228,
		2.201, 2.179, 2.160, 2.145, 2.131, 2.120, 2.110, 2.101, 2.093, 2.086,
		2.080, 2.074, 2.069, 2.064, 2.060, 2.056, 2.052, 2.048, 2.045, 2.042,
	},
	Level99: {
		63.657, 9.925, 5.841, 4.604, 4.032, 3.707, 3.499, 3.355, 3.250, 3.169,
		3.106, 3.055, 3.012, 2.977, 2.947, 2.921, 2.898, 2.878, 2.861, 2.845,
		2.831, 2.819, 2.807, 2.797, 2.787, 2.779, 2.771, 2.763, 2.756, 2.750,
	},
}

// breakpoint is a tabulated value past the dense part of the table.
type breakpoint struct {
	df float64
	t  float64
}

var tBreakpoints = map[Level][]breakpoint{
	Level95: {{30, 2.042}, {40, 2.021}, {60, 2.000}, {120, 1.980}},
	Level99: {{30, 2.750}, {40, 2.704}, {60, 2.660}, {120, 2.617}},
}

// tInfinity is the normal limit of each level.
var tInfinity = map[Level]float64{
	Level95: 1.960,
	Level99: 2.576,
}

// StudentT returns the two-sided critical value for df degrees of freedom.
// Between tabulated breakpoints it interpolates linearly in df; past the
// last breakpoint it interpolates linearly in 1/df towards the normal limit.
// Panics on an unknown level or df < 1.
func StudentT(level Level, df int) float64 {
	dense, ok := tTable[level]
	if !ok {
		panic("stats: unknown confidence level")
	}
	if df < 1 {
		panic("stats: degrees of freedom must be >= 1")
	}
	if df <= len(dense) {
		return dense[df-1]
	}
	x := float64(df)
	bps := tBreakpoints[level]
	for i := 1; i < len(bps); i++ {
		lo, hi := bps[i-1], bps[i]
		if x <= hi.df {
			return lo.t + (hi.t-lo.t)*(x-lo.df)/(hi.df-lo.df)
		}
	}
	last := bps[len(bps)-1]
	inf := tInfinity[level]
	return inf + (last.t-inf)*(last.df/x)
}

// RMSConfidence returns the root mean square of the 95% half-widths of the
// given results, each expressed as a percentage of its mean. Results with a
// zero mean are skipped; with nothing to aggregate the result is +Inf so a
// stopping rule never fires on an empty set.
func RMSConfidence(results []*Result) float64 {
	var sumSq float64
	var k int
	for _, r := range results {
		m := r.Mean()
		if m == 0 {
			continue
		}
		pct := 100 * r.Confidence(Level95) / m
		sumSq += pct * pct
		k++
	}
	if k == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(sumSq / float64(k))
}
