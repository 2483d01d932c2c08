// Package sink receives simulation results.
//
// The engine never formats output: after every batch and at the end of a
// run it calls the typed setters of a Sink. Names are "kind/name":
// processor/P, task/T, entry/E, activity/T.A, call/T.A->E and join/T.N,
// where N is the ordinal of the join list within its task.
package sink

import (
	"github.com/layeredqueuing/lqsim/sim/stats"
)

// Stat is a mean with its variance and confidence half-widths.
type Stat struct {
	Mean         float64 `yaml:"mean"`
	Variance     float64 `yaml:"variance"`
	Confidence95 float64 `yaml:"confidence95,omitempty"`
	Confidence99 float64 `yaml:"confidence99,omitempty"`
}

// Of summarizes a result's batch means.
func Of(r *stats.Result) Stat {
	return Stat{
		Mean:         r.Mean(),
		Variance:     r.Variance(),
		Confidence95: r.Confidence(stats.Level95),
		Confidence99: r.Confidence(stats.Level99),
	}
}

// ThroughputOf summarizes the per-batch observation rate of a result.
func ThroughputOf(r *stats.Result, period float64) Stat {
	var variance float64
	if period > 0 {
		variance = r.CountVariance() / (period * period)
	}
	return Stat{
		Mean:         r.Throughput(period),
		Variance:     variance,
		Confidence95: r.ThroughputConfidence(stats.Level95, period),
		Confidence99: r.ThroughputConfidence(stats.Level99, period),
	}
}

// Sink is the downstream consumer of results.
type Sink interface {
	SetThroughput(name string, s Stat)
	SetUtilization(name string, s Stat)
	SetWaiting(name string, s Stat)
	SetLossProbability(name string, s Stat)
	SetJoinDelay(name string, s Stat)
	SetPhaseServiceTime(name string, phase int, s Stat)
	SetSquaredCoeffVariation(name string, cv2 float64)
	SetHistogram(name string, h *stats.Histogram)
	// SetBatch reports that batch n completed with the given RMS confidence.
	SetBatch(n int, rmsConfidence float64)
}

// Multi fans every call out to several sinks in order.
type Multi []Sink

func (m Multi) SetThroughput(name string, s Stat) {
	for _, k := range m {
		k.SetThroughput(name, s)
	}
}

func (m Multi) SetUtilization(name string, s Stat) {
	for _, k := range m {
		k.SetUtilization(name, s)
	}
}

func (m Multi) SetWaiting(name string, s Stat) {
	for _, k := range m {
		k.SetWaiting(name, s)
	}
}

func (m Multi) SetLossProbability(name string, s Stat) {
	for _, k := range m {
		k.SetLossProbability(name, s)
	}
}

func (m Multi) SetJoinDelay(name string, s Stat) {
	for _, k := range m {
		k.SetJoinDelay(name, s)
	}
}

func (m Multi) SetPhaseServiceTime(name string, phase int, s Stat) {
	for _, k := range m {
		k.SetPhaseServiceTime(name, phase, s)
	}
}

func (m Multi) SetSquaredCoeffVariation(name string, cv2 float64) {
	for _, k := range m {
		k.SetSquaredCoeffVariation(name, cv2)
	}
}

func (m Multi) SetHistogram(name string, h *stats.Histogram) {
	for _, k := range m {
		k.SetHistogram(name, h)
	}
}

func (m Multi) SetBatch(n int, rms float64) {
	for _, k := range m {
		k.SetBatch(n, rms)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) SetThroughput(string, Stat)               {}
func (Discard) SetUtilization(string, Stat)              {}
func (Discard) SetWaiting(string, Stat)                  {}
func (Discard) SetLossProbability(string, Stat)          {}
func (Discard) SetJoinDelay(string, Stat)                {}
func (Discard) SetPhaseServiceTime(string, int, Stat)    {}
func (Discard) SetSquaredCoeffVariation(string, float64) {}
func (Discard) SetHistogram(string, *stats.Histogram)    {}
func (Discard) SetBatch(int, float64)                    {}
