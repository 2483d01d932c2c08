package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution samples service times.
type Distribution interface {
	// Sample returns a non-negative service time.
	Sample(rng *rand.Rand) float64
	Mean() float64
}

// randSource lets gonum samplers draw from the engine's single RNG stream.
type randSource struct{ r *rand.Rand }

func (s randSource) Uint64() uint64 { return s.r.Uint64() }

// ConstantDistribution always returns its mean.
type ConstantDistribution struct{ mean float64 }

func (d ConstantDistribution) Sample(_ *rand.Rand) float64 { return d.mean }
func (d ConstantDistribution) Mean() float64              { return d.mean }

// ExponentialDistribution has a squared coefficient of variation of 1.
type ExponentialDistribution struct{ mean float64 }

func (d ExponentialDistribution) Sample(rng *rand.Rand) float64 {
	return distuv.Exponential{Rate: 1 / d.mean, Src: randSource{rng}}.Rand()
}
func (d ExponentialDistribution) Mean() float64 { return d.mean }

// GammaDistribution covers 0 < cv2 < 1 with shape 1/cv2.
type GammaDistribution struct{ mean, cv2 float64 }

func (d GammaDistribution) Sample(rng *rand.Rand) float64 {
	shape := 1 / d.cv2
	return distuv.Gamma{Alpha: shape, Beta: shape / d.mean, Src: randSource{rng}}.Rand()
}
func (d GammaDistribution) Mean() float64 { return d.mean }

// HyperExponentialDistribution covers cv2 > 1 with a two-branch
// hyperexponential with balanced means.
type HyperExponentialDistribution struct {
	mean   float64
	p      float64
	r1, r2 float64
}

func newHyperExponential(mean, cv2 float64) HyperExponentialDistribution {
	p := 0.5 * (1 + math.Sqrt((cv2-1)/(cv2+1)))
	return HyperExponentialDistribution{mean: mean, p: p, r1: 2 * p / mean, r2: 2 * (1 - p) / mean}
}

func (d HyperExponentialDistribution) Sample(rng *rand.Rand) float64 {
	rate := d.r2
	if rng.Float64() < d.p {
		rate = d.r1
	}
	return distuv.Exponential{Rate: rate, Src: randSource{rng}}.Rand()
}
func (d HyperExponentialDistribution) Mean() float64 { return d.mean }

// NewDistribution picks a distribution matching the mean and squared
// coefficient of variation.
func NewDistribution(mean, cv2 float64) (Distribution, error) {
	if math.IsNaN(mean) || math.IsInf(mean, 0) || mean < 0 {
		return nil, fmt.Errorf("service time must be a non-negative finite number, got %g", mean)
	}
	if math.IsNaN(cv2) || math.IsInf(cv2, 0) || cv2 < 0 {
		return nil, fmt.Errorf("cv2 must be a non-negative finite number, got %g", cv2)
	}
	switch {
	case mean == 0 || cv2 == 0:
		return ConstantDistribution{mean: mean}, nil
	case cv2 == 1:
		return ExponentialDistribution{mean: mean}, nil
	case cv2 < 1:
		return GammaDistribution{mean: mean, cv2: cv2}, nil
	default:
		return newHyperExponential(mean, cv2), nil
	}
}
