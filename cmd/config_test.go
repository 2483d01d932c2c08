package cmd

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layeredqueuing/lqsim/sim/model"
)

func TestLoadEnv_OnlySetVariablesOverride(t *testing.T) {
	// GIVEN pragmas from a model file
	p := model.Pragmas{Seed: 1, BlockPeriod: 500, MaxBlocks: 4}

	// WHEN the environment sets the seed and the precision
	cfg, err := loadEnv(map[string]string{"LQSIM_SEED": "99", "LQSIM_PRECISION": "2.5", "LQSIM_LOG": "debug"})
	require.NoError(t, err)
	cfg.apply(&p)

	// THEN only those fields change
	assert.Equal(t, int64(99), p.Seed)
	assert.Equal(t, 2.5, p.Precision)
	assert.Equal(t, 500.0, p.BlockPeriod)
	assert.Equal(t, 4, p.MaxBlocks)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnv_RejectsMalformedValue(t *testing.T) {
	_, err := loadEnv(map[string]string{"LQSIM_MAX_BLOCKS": "many"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse environment")
}

func TestPragmaFlags_ChangedFlagsWin(t *testing.T) {
	// GIVEN pragmas already overridden by the environment
	p := model.Pragmas{Seed: 99, BlockPeriod: 500, MaxBlocks: 4}
	var f pragmaFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)

	// WHEN only --max-blocks and --strict-queue-length are given
	require.NoError(t, fs.Parse([]string{"--max-blocks", "7", "--strict-queue-length"}))
	f.apply(&p, fs)

	// THEN flag defaults do not clobber the other fields
	assert.Equal(t, 7, p.MaxBlocks)
	assert.True(t, p.StrictQueueLength)
	assert.Equal(t, int64(99), p.Seed)
	assert.Equal(t, 500.0, p.BlockPeriod)
	assert.False(t, p.FloatAdvisories)
}

func TestParseVars(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"pairs", []string{"a=1", "b=x=y"}, map[string]string{"a": "1", "b": "x=y"}, false},
		{"missing value", []string{"a"}, nil, true},
		{"missing name", []string{"=1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVars(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
