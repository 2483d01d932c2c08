package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphSpec(entries []EntrySpec, acts []ActivitySpec, prec []PrecedenceSpec) *Spec {
	return &Spec{
		Processors: []ProcessorSpec{{Name: "p"}},
		Tasks: []TaskSpec{{
			Name: "t", Processor: "p",
			Entries: entries, Activities: acts, Precedence: prec,
		}},
	}
}

func acts(names ...string) []ActivitySpec {
	out := make([]ActivitySpec, len(names))
	for i, n := range names {
		out[i] = ActivitySpec{Name: n, ServiceTime: 1}
	}
	return out
}

func seq(a, b string) PrecedenceSpec {
	return PrecedenceSpec{Pre: []string{a}, Post: []string{b}}
}

func activityByName(t *Task, name string) *Activity {
	for _, a := range t.Activities {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func TestResolve_CycleReportsFullPath(t *testing.T) {
	// GIVEN a -> b -> c -> a
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a"}},
		acts("a", "b", "c"),
		[]PrecedenceSpec{seq("a", "b"), seq("b", "c"), seq("c", "a")},
	)

	// WHEN the model is built
	_, err := Build(spec)

	// THEN the cycle is reported with every activity in path order
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActivityCycle))
	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{"a", "b", "c", "a"}, me.Path)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
	assert.Equal(t, "t", me.Task)
	assert.Equal(t, "e", me.Entry)
}

func TestResolve_OrForkProbabilities(t *testing.T) {
	tests := []struct {
		name  string
		probs []float64
		ok    bool
	}{
		{"exact", []float64{0.3, 0.7}, true},
		{"within tolerance", []float64{0.5, 0.5000001}, true},
		{"short", []float64{0.3, 0.6}, false},
		{"outside tolerance", []float64{0.5, 0.50001}, false},
		{"negative branch", []float64{1.5, -0.5}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := graphSpec(
				[]EntrySpec{{Name: "e", Start: "a"}},
				acts("a", "b", "c"),
				[]PrecedenceSpec{{Pre: []string{"a"}, Post: []string{"b", "c"}, PostType: "or", Probabilities: tc.probs}},
			)
			_, err := Build(spec)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrOrBranchProbabilities), "got %v", err)
			}
		})
	}
}

func TestResolve_AndForkJoinIsBound(t *testing.T) {
	// GIVEN a0 -> (a1 & a2) -> a3
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a0"}},
		acts("a0", "a1", "a2", "a3"),
		[]PrecedenceSpec{
			{Pre: []string{"a0"}, Post: []string{"a1", "a2"}, PostType: "and"},
			{Pre: []string{"a1", "a2"}, PreType: "and", Post: []string{"a3"}},
		},
	)

	m, err := Build(spec)
	require.NoError(t, err)

	task := m.Tasks[0]
	a1 := activityByName(task, "a1")
	join := task.List(a1.Output)
	fork := task.List(a1.Input)
	assert.Equal(t, ListAndJoin, join.Kind)
	assert.Equal(t, ListAndFork, fork.Kind)
	assert.Equal(t, JoinInternalForkJoin, join.JoinKind)

	f, ok := task.ForkFor(join.ID)
	require.True(t, ok)
	assert.Equal(t, fork.ID, f)
	j, ok := task.JoinFor(fork.ID)
	require.True(t, ok)
	assert.Equal(t, join.ID, j)
	assert.False(t, task.SyncServer)
	assert.Equal(t, 2, join.QuorumCount())
}

func TestResolve_NestedForkJoins(t *testing.T) {
	// GIVEN a0 -> (b1 -> (c1 & c2) -> x) & b2 -> y
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a0"}},
		acts("a0", "b1", "b2", "c1", "c2", "x", "y"),
		[]PrecedenceSpec{
			{Pre: []string{"a0"}, Post: []string{"b1", "b2"}, PostType: "and"},
			{Pre: []string{"b1"}, Post: []string{"c1", "c2"}, PostType: "and"},
			{Pre: []string{"c1", "c2"}, PreType: "and", Post: []string{"x"}},
			{Pre: []string{"x", "b2"}, PreType: "and", Post: []string{"y"}},
		},
	)

	m, err := Build(spec)
	require.NoError(t, err)

	task := m.Tasks[0]
	outer, _ := task.JoinFor(activityByName(task, "b1").Input)
	inner, _ := task.JoinFor(activityByName(task, "c1").Input)
	assert.Equal(t, activityByName(task, "x").Output, outer)
	assert.Equal(t, activityByName(task, "c1").Output, inner)
}

func TestResolve_SynchronizationJoin(t *testing.T) {
	// GIVEN two entries whose flows meet in an AND-join
	spec := graphSpec(
		[]EntrySpec{{Name: "e1", Start: "a1"}, {Name: "e2", Start: "a2"}},
		[]ActivitySpec{
			{Name: "a1", ServiceTime: 1},
			{Name: "a2", ServiceTime: 1},
			{Name: "a3", ServiceTime: 1, Replies: []string{"e1", "e2"}},
		},
		[]PrecedenceSpec{{Pre: []string{"a1", "a2"}, PreType: "and", Post: []string{"a3"}}},
	)

	m, err := Build(spec)
	require.NoError(t, err)

	task := m.Tasks[0]
	join := task.List(activityByName(task, "a1").Output)
	assert.Equal(t, JoinSynchronization, join.JoinKind)
	assert.True(t, task.SyncServer)
	_, bound := task.ForkFor(join.ID)
	assert.False(t, bound)
}

func TestResolve_SynchronizationNeedsSingleServer(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e1", Start: "a1"}, {Name: "e2", Start: "a2"}},
		acts("a1", "a2", "a3"),
		[]PrecedenceSpec{{Pre: []string{"a1", "a2"}, PreType: "and", Post: []string{"a3"}}},
	)
	spec.Tasks[0].Multiplicity = 2

	_, err := Build(spec)
	assert.True(t, errors.Is(err, ErrSyncMultiplicity), "got %v", err)
}

func TestResolve_JoinForkMismatch(t *testing.T) {
	// GIVEN a join whose first branch comes from a live fork and whose
	// second branch is the root of another entry
	spec := graphSpec(
		[]EntrySpec{{Name: "e1", Start: "a0"}, {Name: "e2", Start: "b"}},
		acts("a0", "a1", "a2", "b", "c"),
		[]PrecedenceSpec{
			{Pre: []string{"a0"}, Post: []string{"a1", "a2"}, PostType: "and"},
			{Pre: []string{"a1", "b"}, PreType: "and", Post: []string{"c"}},
		},
	)

	_, err := Build(spec)
	assert.True(t, errors.Is(err, ErrJoinForkMismatch), "got %v", err)
}

func TestResolve_ForkClosedByTwoJoins(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a0"}},
		acts("a0", "b1", "b2", "b3", "b4", "x", "y"),
		[]PrecedenceSpec{
			{Pre: []string{"a0"}, Post: []string{"b1", "b2", "b3", "b4"}, PostType: "and"},
			{Pre: []string{"b1", "b2"}, PreType: "and", Post: []string{"x"}},
			{Pre: []string{"b3", "b4"}, PreType: "and", Post: []string{"y"}},
		},
	)

	_, err := Build(spec)
	assert.True(t, errors.Is(err, ErrForkJoinBound), "got %v", err)
}

func TestResolve_QuorumOnSynchronizationJoin(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e1", Start: "a1"}, {Name: "e2", Start: "a2"}},
		acts("a1", "a2", "a3"),
		[]PrecedenceSpec{{Pre: []string{"a1", "a2"}, PreType: "and", Quorum: 1, Post: []string{"a3"}}},
	)

	_, err := Build(spec)
	assert.True(t, errors.Is(err, ErrQuorum), "got %v", err)
}

func TestResolve_DuplicateReplyOnPath(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a"}},
		[]ActivitySpec{
			{Name: "a", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "b", ServiceTime: 1, Replies: []string{"e"}},
		},
		[]PrecedenceSpec{seq("a", "b")},
	)

	_, err := Build(spec)
	assert.True(t, errors.Is(err, ErrDuplicateReply), "got %v", err)
}

func TestResolve_ReplyInEachOrBranchIsAllowed(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a"}},
		[]ActivitySpec{
			{Name: "a", ServiceTime: 1},
			{Name: "b", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "c", ServiceTime: 1, Replies: []string{"e"}},
		},
		[]PrecedenceSpec{{Pre: []string{"a"}, Post: []string{"b", "c"}, PostType: "or", Probabilities: []float64{0.5, 0.5}}},
	)

	_, err := Build(spec)
	assert.NoError(t, err)
}

func TestResolve_ActivitiesAfterReplyArePhaseTwo(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a"}},
		[]ActivitySpec{
			{Name: "a", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "b", ServiceTime: 2},
		},
		[]PrecedenceSpec{seq("a", "b")},
	)

	m, err := Build(spec)
	require.NoError(t, err)

	task := m.Tasks[0]
	assert.Equal(t, 1, activityByName(task, "a").Phase)
	assert.Equal(t, 2, activityByName(task, "b").Phase)
	assert.Equal(t, 2, task.MaxPhases)
}

func TestResolve_LoopTotal(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a"}},
		acts("a", "b", "c", "d"),
		[]PrecedenceSpec{{Pre: []string{"a"}, Post: []string{"b", "c"}, PostType: "loop", Counts: []float64{2, 3}, End: "d"}},
	)

	m, err := Build(spec)
	require.NoError(t, err)

	task := m.Tasks[0]
	loop := task.List(activityByName(task, "b").Input)
	assert.Equal(t, ListLoop, loop.Kind)
	assert.Equal(t, 5.0, loop.LoopTotal)
	assert.Equal(t, activityByName(task, "d").ID, loop.LoopEnd)
	assert.Equal(t, loop.ID, activityByName(task, "d").Input)
}

func TestResolve_UnreachableActivityWarns(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "a"}},
		acts("a", "orphan"),
		nil,
	)

	m, err := Build(spec)
	require.NoError(t, err)
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "orphan")
}

func TestResolve_ReplyOnTwoAndBranchesIsRejected(t *testing.T) {
	// GIVEN s -> (x & y) -> m where both x and y reply to e
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "s"}},
		[]ActivitySpec{
			{Name: "s", ServiceTime: 1},
			{Name: "x", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "y", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "m", ServiceTime: 1},
		},
		[]PrecedenceSpec{
			{Pre: []string{"s"}, Post: []string{"x", "y"}, PostType: "and"},
			{Pre: []string{"x", "y"}, PreType: "and", Post: []string{"m"}},
		},
	)

	// WHEN the model is built
	_, err := Build(spec)

	// THEN the second reply is a configuration error naming both activities
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateReply), "got %v", err)
	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "e", me.Entry)
	assert.Equal(t, "y", me.Activity)
	assert.Contains(t, err.Error(), "also replied by x")
}

func TestResolve_ReplyAfterJoinRepeatsBranchReply(t *testing.T) {
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "s"}},
		[]ActivitySpec{
			{Name: "s", ServiceTime: 1},
			{Name: "x", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "y", ServiceTime: 1},
			{Name: "m", ServiceTime: 1, Replies: []string{"e"}},
		},
		[]PrecedenceSpec{
			{Pre: []string{"s"}, Post: []string{"x", "y"}, PostType: "and"},
			{Pre: []string{"x", "y"}, PreType: "and", Post: []string{"m"}},
		},
	)

	_, err := Build(spec)
	assert.True(t, errors.Is(err, ErrDuplicateReply), "got %v", err)
}

func TestResolve_ReplyOnOneAndBranchMakesJoinPhaseTwo(t *testing.T) {
	// GIVEN only x replies, and the join is reached first from x
	spec := graphSpec(
		[]EntrySpec{{Name: "e", Start: "s"}},
		[]ActivitySpec{
			{Name: "s", ServiceTime: 1},
			{Name: "x", ServiceTime: 1, Replies: []string{"e"}},
			{Name: "y", ServiceTime: 1},
			{Name: "m", ServiceTime: 1},
		},
		[]PrecedenceSpec{
			{Pre: []string{"s"}, Post: []string{"x", "y"}, PostType: "and"},
			{Pre: []string{"x", "y"}, PreType: "and", Post: []string{"m"}},
		},
	)

	m, err := Build(spec)
	require.NoError(t, err)

	// THEN the activity after the join runs in the second phase
	task := m.Tasks[0]
	assert.Equal(t, 1, activityByName(task, "y").Phase)
	assert.Equal(t, 2, activityByName(task, "m").Phase)
}

// diamonds chains n fork/join stages s0 -> (a0 ? b0) -> s1 -> ... -> sn.
func diamonds(n int, kind string) *Spec {
	names := []string{"s0"}
	var prec []PrecedenceSpec
	for i := 0; i < n; i++ {
		s, a, b, next := fmt.Sprintf("s%d", i), fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i), fmt.Sprintf("s%d", i+1)
		names = append(names, a, b, next)
		fork := PrecedenceSpec{Pre: []string{s}, Post: []string{a, b}, PostType: kind}
		if kind == "or" {
			fork.Probabilities = []float64{0.5, 0.5}
		}
		prec = append(prec, fork, PrecedenceSpec{Pre: []string{a, b}, PreType: kind, Post: []string{next}})
	}
	return graphSpec([]EntrySpec{{Name: "e", Start: "s0"}}, acts(names...), prec)
}

func TestResolve_SerialForkJoinsResolveOnce(t *testing.T) {
	for _, kind := range []string{"and", "or"} {
		t.Run(kind, func(t *testing.T) {
			// GIVEN forty stages, far beyond what a walk per path could finish
			m, err := Build(diamonds(40, kind))

			// THEN every stage is resolved and the last activity is reached
			require.NoError(t, err)
			task := m.Tasks[0]
			assert.Empty(t, m.Warnings)
			assert.Equal(t, 1, activityByName(task, "s40").Phase)
			if kind == "and" {
				_, bound := task.JoinFor(activityByName(task, "a39").Input)
				assert.True(t, bound)
			}
		})
	}
}
