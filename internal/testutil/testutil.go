// Package testutil provides shared test infrastructure for the lqsim
// packages: model fixtures, testdata lookup and float assertions.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/layeredqueuing/lqsim/sim/model"
)

// Float returns a pointer to v, for optional spec fields such as CV2.
func Float(v float64) *float64 { return &v }

// ClientServer is a single reference client making exactly one rendezvous
// per cycle to a one-phase server.
func ClientServer() *model.Spec {
	return &model.Spec{
		Pragmas: model.Pragmas{Seed: 1, BlockPeriod: 100, MaxBlocks: 3},
		Processors: []model.ProcessorSpec{
			{Name: "pc", Scheduling: "inf"},
			{Name: "ps"},
		},
		Tasks: []model.TaskSpec{
			{
				Name: "client", Processor: "pc", Kind: "reference", ThinkTime: 1,
				Entries: []model.EntrySpec{{Name: "cycle", Phases: []model.ActivitySpec{{
					ServiceTime:   0.1,
					Deterministic: true,
					Calls:         []model.CallSpec{{To: "serve", Mean: 1}},
				}}}},
			},
			{
				Name: "server", Processor: "ps",
				Entries: []model.EntrySpec{{Name: "serve", Phases: []model.ActivitySpec{{ServiceTime: 0.5}}}},
			},
		},
	}
}

// MustBuild builds spec and fails the test on error.
func MustBuild(t *testing.T, spec *model.Spec) *model.Model {
	t.Helper()
	m, err := model.Build(spec)
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	return m
}

// TestdataPath resolves name under the repository's testdata directory.
// The path is resolved relative to this source file: internal/testutil/ → testdata/.
func TestdataPath(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "testdata", name)
}

// ReadTestdata reads a file from the repository's testdata directory.
func ReadTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(TestdataPath(t, name))
	if err != nil {
		t.Fatalf("Failed to read testdata %s: %v", name, err)
	}
	return data
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
