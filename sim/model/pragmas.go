package model

import (
	"fmt"
	"math"
)

// Pragmas are run-control options attached to a model.
type Pragmas struct {
	Seed                  int64   `yaml:"seed,omitempty"`
	Precision             float64 `yaml:"precision,omitempty"` // RMS confidence target, percent of mean; 0 = run MaxBlocks
	BlockPeriod           float64 `yaml:"block_period,omitempty"`
	MaxBlocks             int     `yaml:"max_blocks,omitempty"`
	InitialDelay          float64 `yaml:"initial_delay,omitempty"`
	ErrorThreshold        int     `yaml:"error_threshold,omitempty"`
	RescheduleOnAsyncSend bool    `yaml:"reschedule_on_async_send,omitempty"`
	StrictQueueLength     bool    `yaml:"strict_queue_length,omitempty"`
	FloatAdvisories       bool    `yaml:"float_advisories,omitempty"`
}

// Default pragma values applied to zero fields.
const (
	DefaultBlockPeriod    = 10000.0
	DefaultMaxBlocks      = 30
	DefaultErrorThreshold = 10
)

// WithDefaults returns a copy with zero fields replaced by defaults.
func (p Pragmas) WithDefaults() Pragmas {
	if p.BlockPeriod == 0 {
		p.BlockPeriod = DefaultBlockPeriod
	}
	if p.MaxBlocks == 0 {
		p.MaxBlocks = DefaultMaxBlocks
	}
	if p.ErrorThreshold == 0 {
		p.ErrorThreshold = DefaultErrorThreshold
	}
	return p
}

// Validate checks pragma ranges.
func (p Pragmas) Validate() error {
	if p.BlockPeriod <= 0 || math.IsInf(p.BlockPeriod, 0) || math.IsNaN(p.BlockPeriod) {
		return fmt.Errorf("pragmas.block_period must be a positive finite number, got %f", p.BlockPeriod)
	}
	if p.MaxBlocks < 1 {
		return fmt.Errorf("pragmas.max_blocks must be at least 1, got %d", p.MaxBlocks)
	}
	if p.Precision < 0 || math.IsNaN(p.Precision) {
		return fmt.Errorf("pragmas.precision must be non-negative, got %f", p.Precision)
	}
	if p.InitialDelay < 0 || math.IsNaN(p.InitialDelay) {
		return fmt.Errorf("pragmas.initial_delay must be non-negative, got %f", p.InitialDelay)
	}
	if p.ErrorThreshold < 0 {
		return fmt.Errorf("pragmas.error_threshold must be non-negative, got %d", p.ErrorThreshold)
	}
	return nil
}
