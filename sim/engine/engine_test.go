package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layeredqueuing/lqsim/internal/testutil"
	"github.com/layeredqueuing/lqsim/sim/kernel"
	"github.com/layeredqueuing/lqsim/sim/model"
	"github.com/layeredqueuing/lqsim/sim/sink"
)

func quietLogger() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func run(t *testing.T, spec *model.Spec) (*model.Model, *Summary, *sink.Record) {
	t.Helper()
	m := testutil.MustBuild(t, spec)
	rec := sink.NewRecord()
	sum, err := New(m, WithSink(rec), WithLogger(quietLogger())).Run(context.Background())
	require.NoError(t, err)
	return m, sum, rec
}

func entry(m *model.Model, name string) *model.Entry {
	for _, e := range m.Entries() {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func joinDelay(t *model.Task) *model.ActivityList {
	for _, l := range t.Lists {
		if l.JoinDelay != nil {
			return l
		}
	}
	return nil
}

// forkJoinSpec is a client calling a server whose entry forks into
// deterministic branches with the given service times and joins them.
func forkJoinSpec(quorum int, services ...float64) *model.Spec {
	var branches []string
	acts := []model.ActivitySpec{{Name: "split"}}
	for i, s := range services {
		name := string(rune('a' + i))
		branches = append(branches, name)
		acts = append(acts, model.ActivitySpec{Name: name, ServiceTime: s, CV2: testutil.Float(0)})
	}
	acts = append(acts, model.ActivitySpec{Name: "merge", Replies: []string{"fj"}})

	spec := testutil.ClientServer()
	spec.Processors[1].Scheduling = "inf"
	spec.Tasks[0].Entries[0].Phases[0].Calls[0].To = "fj"
	spec.Tasks[1] = model.TaskSpec{
		Name: "server", Processor: "ps",
		Entries:    []model.EntrySpec{{Name: "fj", Start: "split"}},
		Activities: acts,
		Precedence: []model.PrecedenceSpec{
			{Pre: []string{"split"}, Post: branches, PostType: "and"},
			{Pre: branches, PreType: "and", Quorum: quorum, Post: []string{"merge"}},
		},
	}
	return spec
}

func TestRun_RendezvousDelayMatchesServerCycles(t *testing.T) {
	// GIVEN a client making exactly one rendezvous per cycle
	m, sum, rec := run(t, testutil.ClientServer())

	// THEN every batch holds one delay sample per served request
	call := m.Tasks[0].Activity(m.Tasks[0].Entries[0].Phases[0]).Calls[0]
	serve := entry(m, "serve")
	assert.Equal(t, 3, sum.Batches)
	assert.Zero(t, sum.RuntimeErrors)
	assert.Greater(t, serve.CycleTime.MeanCount(), 0.0)
	assert.Equal(t, serve.CycleTime.MeanCount(), call.Delay.MeanCount())

	// AND the results reach the sink under kind/name keys
	assert.Contains(t, rec.Throughput, "entry/serve")
	assert.Contains(t, rec.Utilization, "processor/ps")
	assert.Contains(t, rec.Utilization, "task/server")
	assert.Contains(t, rec.Waiting, "call/client.cycle_ph1->serve")
	assert.Contains(t, rec.PhaseService["entry/serve"], 1)
	assert.Equal(t, 3, rec.Batches)
	assert.InDelta(t, 0.5, rec.PhaseService["entry/serve"][1].Mean, 0.2)
}

func TestRun_SameSeedSameResults(t *testing.T) {
	_, _, first := run(t, testutil.ClientServer())
	_, _, second := run(t, testutil.ClientServer())
	assert.Equal(t, first, second)
}

func TestRun_ForkJoinDelayIsSlowestBranch(t *testing.T) {
	// GIVEN deterministic branches of 1 and 3 time units on a delay processor
	m, sum, rec := run(t, forkJoinSpec(0, 1, 3))

	// THEN the join delay is exactly the slowest branch
	j := joinDelay(m.Tasks[1])
	require.NotNil(t, j)
	assert.Zero(t, sum.RuntimeErrors)
	assert.InDelta(t, 3.0, j.JoinDelay.Mean(), 1e-9)
	assert.InDelta(t, 0.0, j.JoinDelay.Variance(), 1e-9)
	assert.Contains(t, rec.JoinDelay, "join/server.2")
}

func TestRun_QuorumJoinWaitsForKBranches(t *testing.T) {
	// GIVEN three branches of 1, 2 and 3 units and a quorum of 2
	m, sum, _ := run(t, forkJoinSpec(2, 1, 2, 3))

	// THEN the join releases at the second completion
	j := joinDelay(m.Tasks[1])
	require.NotNil(t, j)
	assert.Zero(t, sum.RuntimeErrors)
	assert.InDelta(t, 2.0, j.JoinDelay.Mean(), 1e-9)
	assert.InDelta(t, 2.0, entry(m, "fj").CycleTime.Mean(), 1e-9)
}

func TestRun_SynchronizationJoinCompletesBothEntries(t *testing.T) {
	// GIVEN two clients each calling one entry of a synchronizing server
	spec := &model.Spec{
		Pragmas: model.Pragmas{Seed: 3, BlockPeriod: 100, MaxBlocks: 3},
		Processors: []model.ProcessorSpec{
			{Name: "pc", Scheduling: "inf"},
			{Name: "ps"},
		},
		Tasks: []model.TaskSpec{
			{Name: "c1", Processor: "pc", Kind: "reference", ThinkTime: 1,
				Entries: []model.EntrySpec{{Name: "go1", Phases: []model.ActivitySpec{{
					Deterministic: true, Calls: []model.CallSpec{{To: "e1", Mean: 1}},
				}}}}},
			{Name: "c2", Processor: "pc", Kind: "reference", ThinkTime: 2,
				Entries: []model.EntrySpec{{Name: "go2", Phases: []model.ActivitySpec{{
					Deterministic: true, Calls: []model.CallSpec{{To: "e2", Mean: 1}},
				}}}}},
			{Name: "sync", Processor: "ps",
				Entries: []model.EntrySpec{{Name: "e1", Start: "a1"}, {Name: "e2", Start: "a2"}},
				Activities: []model.ActivitySpec{
					{Name: "a1", ServiceTime: 0.1},
					{Name: "a2", ServiceTime: 0.1},
					{Name: "b", Replies: []string{"e1", "e2"}},
				},
				Precedence: []model.PrecedenceSpec{
					{Pre: []string{"a1", "a2"}, PreType: "and", Post: []string{"b"}},
				},
			},
		},
	}

	m, sum, _ := run(t, spec)

	// THEN both entries complete together, once per synchronization
	assert.True(t, m.Tasks[2].SyncServer)
	assert.Zero(t, sum.RuntimeErrors)
	e1, e2 := entry(m, "e1"), entry(m, "e2")
	assert.Greater(t, e1.CycleTime.MeanCount(), 0.0)
	assert.Equal(t, e1.CycleTime.MeanCount(), e2.CycleTime.MeanCount())
	assert.Equal(t, e1.CycleTime.MeanCount(), joinDelay(m.Tasks[2]).JoinDelay.MeanCount())
}

func semaphoreSpec(clientPhases []model.ActivitySpec) *model.Spec {
	return &model.Spec{
		Pragmas: model.Pragmas{Seed: 5, BlockPeriod: 10, MaxBlocks: 2, ErrorThreshold: 1000},
		Processors: []model.ProcessorSpec{
			{Name: "pc", Scheduling: "inf"},
			{Name: "ps", Scheduling: "inf"},
		},
		Tasks: []model.TaskSpec{
			{Name: "client", Processor: "pc", Kind: "reference", Multiplicity: 2, ThinkTime: 0.5,
				Entries: []model.EntrySpec{{Name: "use", Phases: clientPhases}}},
			{Name: "lock", Processor: "ps", Kind: "semaphore",
				Entries: []model.EntrySpec{
					{Name: "p", Semaphore: "wait", Phases: []model.ActivitySpec{{ServiceTime: 0.01}}},
					{Name: "v", Semaphore: "signal", Phases: []model.ActivitySpec{{ServiceTime: 0.01}}},
				}},
		},
	}
}

func TestRun_SemaphoreWaitThenSignal(t *testing.T) {
	// GIVEN clients that take the lock in phase 1 and release it in phase 2
	spec := semaphoreSpec([]model.ActivitySpec{
		{ServiceTime: 0.2, Deterministic: true, Calls: []model.CallSpec{{To: "p", Mean: 1}}},
		{ServiceTime: 0.2, Deterministic: true, Calls: []model.CallSpec{{To: "v", Mean: 1}}},
	})

	m, sum, _ := run(t, spec)

	// THEN no signal ever arrives without a matching wait
	assert.Zero(t, sum.RuntimeErrors)
	assert.Greater(t, entry(m, "p").CycleTime.MeanCount(), 0.0)
	assert.Greater(t, entry(m, "v").CycleTime.MeanCount(), 0.0)
}

func TestRun_SemaphoreSignalWithoutWaitIsCounted(t *testing.T) {
	spec := semaphoreSpec([]model.ActivitySpec{
		{ServiceTime: 0.2, Deterministic: true, Calls: []model.CallSpec{{To: "v", Mean: 1}}},
	})
	spec.Tasks[1].Entries[0].Phases = nil

	_, sum, _ := run(t, spec)
	assert.Greater(t, sum.RuntimeErrors, 0)
}

func TestRun_MissingReplyAbortsAtThreshold(t *testing.T) {
	// GIVEN a rendezvous to an activity entry that never replies
	spec := testutil.ClientServer()
	spec.Pragmas.ErrorThreshold = 3
	spec.Tasks[1].Entries[0] = model.EntrySpec{Name: "serve", Start: "work"}
	spec.Tasks[1].Activities = []model.ActivitySpec{{Name: "work", ServiceTime: 0.5}}

	m := testutil.MustBuild(t, spec)
	assert.NotEmpty(t, m.Warnings)

	// WHEN it is run
	sum, err := New(m, WithLogger(quietLogger())).Run(context.Background())

	// THEN the run stops once the error count exceeds the threshold
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrErrorThreshold))
	assert.True(t, errors.Is(err, ErrMissingReply))
	assert.Equal(t, 4, sum.RuntimeErrors)
}

func TestRun_CancelledContext(t *testing.T) {
	m := testutil.MustBuild(t, testutil.ClientServer())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := New(m, WithLogger(quietLogger())).Run(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, sum.Batches)
}

func TestRun_PrecisionStopsEarly(t *testing.T) {
	spec := testutil.ClientServer()
	spec.Pragmas.MaxBlocks = 50
	spec.Pragmas.BlockPeriod = 1000
	spec.Pragmas.Precision = 50

	_, sum, _ := run(t, spec)
	assert.True(t, sum.Converged)
	assert.Less(t, sum.Batches, 50)
	assert.GreaterOrEqual(t, sum.Batches, 2)
	assert.LessOrEqual(t, sum.RMSConfidence, 50.0)
}

func TestRun_OpenArrivals(t *testing.T) {
	spec := testutil.ClientServer()
	spec.Tasks = spec.Tasks[1:]
	spec.Tasks[0].Entries[0].OpenArrivalRate = 0.5

	m, sum, rec := run(t, spec)
	serve := entry(m, "serve")
	assert.Zero(t, sum.RuntimeErrors)
	assert.InDelta(t, 50.0, serve.CycleTime.MeanCount(), 25)
	assert.Equal(t, serve.CycleTime.MeanCount(), serve.OpenWait.MeanCount())
	assert.Contains(t, rec.Waiting, "entry/serve/open")
}

func TestSendAsync_DropsWhenPoolIsFull(t *testing.T) {
	// GIVEN a server whose message pool holds a single request
	spec := testutil.ClientServer()
	spec.Tasks[0].ThinkTime = 1e9
	spec.Tasks[0].Entries[0].Phases[0].Calls[0].Type = "send"
	spec.Tasks[1].QueueLength = 1
	spec.Tasks[1].Entries[0].Phases[0] = model.ActivitySpec{ServiceTime: 10, CV2: testutil.Float(0)}
	m := testutil.MustBuild(t, spec)
	call := m.Tasks[0].Activity(m.Tasks[0].Entries[0].Phases[0]).Calls[0]

	e := New(m, WithLogger(quietLogger()))
	e.setup()
	defer e.k.Shutdown()

	// WHEN two sends are issued at the same instant
	var delivered []bool
	e.k.Spawn("probe", 0, func(*kernel.Proc) {
		delivered = append(delivered, e.sendAsync(call), e.sendAsync(call))
	})
	e.k.RunUntil(0.5)
	call.Loss.Accumulate(0.5)

	// THEN exactly one is dropped
	assert.Equal(t, []bool{true, false}, delivered)
	assert.Equal(t, 2.0, call.Loss.MeanCount())
	assert.Equal(t, 0.5, call.Loss.Mean())
	assert.Zero(t, e.errors)
}

func TestSendAsync_StrictQueueLengthIsRuntimeError(t *testing.T) {
	spec := testutil.ClientServer()
	spec.Pragmas.StrictQueueLength = true
	spec.Tasks[0].ThinkTime = 1e9
	spec.Tasks[0].Entries[0].Phases[0].Calls[0].Type = "send"
	spec.Tasks[1].QueueLength = 1
	m := testutil.MustBuild(t, spec)
	call := m.Tasks[0].Activity(m.Tasks[0].Entries[0].Phases[0]).Calls[0]

	e := New(m, WithLogger(quietLogger()))
	e.setup()
	defer e.k.Shutdown()
	e.k.Spawn("probe", 0, func(*kernel.Proc) {
		e.sendAsync(call)
		e.sendAsync(call)
	})
	e.k.RunUntil(0)

	assert.Equal(t, 1, e.errors)
}

// batchCounter counts the throughput results published before each batch
// report and after the last one.
type batchCounter struct {
	sink.Discard
	name     string
	pending  int
	perBatch []int
}

func (b *batchCounter) SetThroughput(name string, _ sink.Stat) {
	if name == b.name {
		b.pending++
	}
}

func (b *batchCounter) SetBatch(int, float64) {
	b.perBatch = append(b.perBatch, b.pending)
	b.pending = 0
}

func TestRun_PublishesEveryBatch(t *testing.T) {
	// GIVEN a sink counting entry throughput updates
	m := testutil.MustBuild(t, testutil.ClientServer())
	counter := &batchCounter{name: "entry/serve"}

	// WHEN three batches are simulated
	_, err := New(m, WithSink(counter), WithLogger(quietLogger())).Run(context.Background())
	require.NoError(t, err)

	// THEN results reach the sink with every batch and once more at the end
	assert.Equal(t, []int{1, 1, 1}, counter.perBatch)
	assert.Equal(t, 1, counter.pending)
}

// graphServerSpec is the client/server fixture with the server entry
// replaced by an activity graph.
func graphServerSpec(acts []model.ActivitySpec, prec []model.PrecedenceSpec) *model.Spec {
	spec := testutil.ClientServer()
	spec.Processors[1].Scheduling = "inf"
	spec.Tasks[1] = model.TaskSpec{
		Name: "server", Processor: "ps",
		Entries:    []model.EntrySpec{{Name: "serve", Start: acts[0].Name}},
		Activities: acts,
		Precedence: prec,
	}
	return spec
}

func TestRun_ActivityCycleTimeIncludesThinkTime(t *testing.T) {
	// GIVEN a server activity thinking for 2 units before 0.5 units of work
	spec := graphServerSpec([]model.ActivitySpec{
		{Name: "work", ThinkTime: 2, ServiceTime: 0.5, CV2: testutil.Float(0), Replies: []string{"serve"}},
	}, nil)

	m, _, rec := run(t, spec)

	// THEN service covers the work only and cycle time adds the think time
	work := m.Tasks[1].Activities[0]
	assert.InDelta(t, 0.5, work.Service.Mean(), 1e-9)
	assert.Greater(t, work.CycleTime.Mean(), work.Service.Mean())
	assert.InDelta(t, 2.5, work.CycleTime.Mean(), 1.0)
	assert.Equal(t, work.Service.MeanCount(), work.CycleTime.MeanCount())
	assert.Contains(t, rec.Waiting, "activity/server.work")
}

func TestRun_OrForkBranchShares(t *testing.T) {
	// GIVEN a server entry choosing A with probability 0.3 and B with 0.7
	spec := graphServerSpec([]model.ActivitySpec{
		{Name: "s"},
		{Name: "A", ServiceTime: 0.1, CV2: testutil.Float(0), Replies: []string{"serve"}},
		{Name: "B", ServiceTime: 0.1, CV2: testutil.Float(0), Replies: []string{"serve"}},
	}, []model.PrecedenceSpec{
		{Pre: []string{"s"}, Post: []string{"A", "B"}, PostType: "or", Probabilities: []float64{0.3, 0.7}},
	})
	spec.Pragmas.BlockPeriod, spec.Pragmas.MaxBlocks = 1000, 10

	m, sum, _ := run(t, spec)

	// THEN A runs on about 30% of the server cycles
	acts := m.Tasks[1].Activities
	a, b := acts[1].Service.MeanCount(), acts[2].Service.MeanCount()
	assert.Zero(t, sum.RuntimeErrors)
	require.Greater(t, a+b, 0.0)
	assert.InDelta(t, 0.3, a/(a+b), 0.03)
	assert.InDelta(t, entry(m, "serve").CycleTime.MeanCount(), a+b, 1e-9)
}

func TestDraw_FollowsWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n = 100000
	hits := 0
	for i := 0; i < n; i++ {
		if draw(rng, []float64{0.3, 0.7}, 1) == 0 {
			hits++
		}
	}
	assert.InDelta(t, 0.3, float64(hits)/n, 0.01)
}

func TestCallCount(t *testing.T) {
	tests := []struct {
		name          string
		mean          float64
		deterministic bool
	}{
		{"geometric", 2, false},
		{"geometric fractional", 0.5, false},
		{"deterministic fractional", 2.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(13))
			const n = 100000
			total := 0
			for i := 0; i < n; i++ {
				total += callCount(rng, tt.mean, tt.deterministic)
			}
			assert.InDelta(t, tt.mean, float64(total)/n, 0.05)
		})
	}
}

func TestCallCount_DeterministicIntegerIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	before := rng.Int63()
	rng = rand.New(rand.NewSource(1))
	assert.Equal(t, 2, callCount(rng, 2, true))
	assert.Equal(t, before, rng.Int63(), "no random draw for an integer mean")
}
