package stats

import "fmt"

// Histogram counts observations in equal-width bins over [Min, Max), with
// separate underflow and overflow counters.
type Histogram struct {
	Min       float64   `yaml:"min"`
	Max       float64   `yaml:"max"`
	Counts    []float64 `yaml:"counts"`
	Underflow float64   `yaml:"underflow"`
	Overflow  float64   `yaml:"overflow"`
}

// NewHistogram creates a histogram with the given number of bins.
func NewHistogram(min, max float64, bins int) (*Histogram, error) {
	if bins < 1 {
		return nil, fmt.Errorf("histogram needs at least one bin, got %d", bins)
	}
	if !(max > min) {
		return nil, fmt.Errorf("histogram max %g must exceed min %g", max, min)
	}
	return &Histogram{Min: min, Max: max, Counts: make([]float64, bins)}, nil
}

// Record adds one observation.
func (h *Histogram) Record(v float64) {
	switch {
	case v < h.Min:
		h.Underflow++
	case v >= h.Max:
		h.Overflow++
	default:
		i := int((v - h.Min) / h.Width())
		if i >= len(h.Counts) {
			i = len(h.Counts) - 1
		}
		h.Counts[i]++
	}
}

// Width returns the bin width.
func (h *Histogram) Width() float64 {
	return (h.Max - h.Min) / float64(len(h.Counts))
}

// Total returns the number of recorded observations.
func (h *Histogram) Total() float64 {
	t := h.Underflow + h.Overflow
	for _, c := range h.Counts {
		t += c
	}
	return t
}

// Reset zeroes every counter.
func (h *Histogram) Reset() {
	for i := range h.Counts {
		h.Counts[i] = 0
	}
	h.Underflow, h.Overflow = 0, 0
}
