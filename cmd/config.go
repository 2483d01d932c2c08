package cmd

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/spf13/pflag"

	"github.com/layeredqueuing/lqsim/sim/model"
)

// envConfig holds the pragma overrides read from the environment. Unset
// variables leave the pointers nil so the model file value survives.
type envConfig struct {
	Seed           *int64   `env:"LQSIM_SEED"`
	Precision      *float64 `env:"LQSIM_PRECISION"`
	BlockPeriod    *float64 `env:"LQSIM_BLOCK_PERIOD"`
	MaxBlocks      *int     `env:"LQSIM_MAX_BLOCKS"`
	InitialDelay   *float64 `env:"LQSIM_INITIAL_DELAY"`
	ErrorThreshold *int     `env:"LQSIM_ERROR_THRESHOLD"`
	LogLevel       string   `env:"LQSIM_LOG"`
}

// loadEnv parses the configuration from environ, or from the process
// environment when environ is nil.
func loadEnv(environ map[string]string) (*envConfig, error) {
	cfg := &envConfig{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// apply overrides the pragmas set in the environment.
func (c *envConfig) apply(p *model.Pragmas) {
	if c.Seed != nil {
		p.Seed = *c.Seed
	}
	if c.Precision != nil {
		p.Precision = *c.Precision
	}
	if c.BlockPeriod != nil {
		p.BlockPeriod = *c.BlockPeriod
	}
	if c.MaxBlocks != nil {
		p.MaxBlocks = *c.MaxBlocks
	}
	if c.InitialDelay != nil {
		p.InitialDelay = *c.InitialDelay
	}
	if c.ErrorThreshold != nil {
		p.ErrorThreshold = *c.ErrorThreshold
	}
}

// pragmaFlags binds the pragma flags of a command.
type pragmaFlags struct {
	seed                  int64
	precision             float64
	blockPeriod           float64
	maxBlocks             int
	initialDelay          float64
	errorThreshold        int
	rescheduleOnAsyncSend bool
	strictQueueLength     bool
	floatAdvisories       bool
}

func (f *pragmaFlags) register(fs *pflag.FlagSet) {
	fs.Int64Var(&f.seed, "seed", 0, "Seed for the random number streams")
	fs.Float64Var(&f.precision, "precision", 0, "Stop when the RMS confidence of entry cycle times is at most this percentage (0 = run every batch)")
	fs.Float64Var(&f.blockPeriod, "block-period", model.DefaultBlockPeriod, "Length of one batch in simulated time")
	fs.IntVar(&f.maxBlocks, "max-blocks", model.DefaultMaxBlocks, "Maximum number of batches")
	fs.Float64Var(&f.initialDelay, "initial-delay", 0, "Warm-up time discarded before the first batch")
	fs.IntVar(&f.errorThreshold, "error-threshold", model.DefaultErrorThreshold, "Runtime errors tolerated before the run is aborted")
	fs.BoolVar(&f.rescheduleOnAsyncSend, "reschedule-on-async-send", false, "Let the receiver of a send run before the sender continues")
	fs.BoolVar(&f.strictQueueLength, "strict-queue-length", false, "Count a dropped send as a runtime error")
	fs.BoolVar(&f.floatAdvisories, "float-advisories", false, "Warn about results that are not finite")
}

// apply overrides the pragmas with every flag set on the command line.
func (f *pragmaFlags) apply(p *model.Pragmas, fs *pflag.FlagSet) {
	if fs.Changed("seed") {
		p.Seed = f.seed
	}
	if fs.Changed("precision") {
		p.Precision = f.precision
	}
	if fs.Changed("block-period") {
		p.BlockPeriod = f.blockPeriod
	}
	if fs.Changed("max-blocks") {
		p.MaxBlocks = f.maxBlocks
	}
	if fs.Changed("initial-delay") {
		p.InitialDelay = f.initialDelay
	}
	if fs.Changed("error-threshold") {
		p.ErrorThreshold = f.errorThreshold
	}
	if fs.Changed("reschedule-on-async-send") {
		p.RescheduleOnAsyncSend = f.rescheduleOnAsyncSend
	}
	if fs.Changed("strict-queue-length") {
		p.StrictQueueLength = f.strictQueueLength
	}
	if fs.Changed("float-advisories") {
		p.FloatAdvisories = f.floatAdvisories
	}
}
