// Package engine interprets a resolved model on the virtual-time kernel.
//
// Every task replica is an Instance whose main thread serves one message at
// a time through serverCycle. AND-forks run their branches on worker
// threads owned by the instance. All randomness (service times, call
// counts, OR and loop draws, reply shuffles, reschedule suppression) comes
// from one seeded stream, so runs are reproducible.
//
// Model.Run drives the batch-means loop: an optional warm-up, then batches
// of Pragmas.BlockPeriod until the RMS confidence of the entry cycle times
// reaches Pragmas.Precision or Pragmas.MaxBlocks batches are done.
package engine

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/layeredqueuing/lqsim/sim"
	"github.com/layeredqueuing/lqsim/sim/kernel"
	"github.com/layeredqueuing/lqsim/sim/model"
	"github.com/layeredqueuing/lqsim/sim/sink"
	"github.com/layeredqueuing/lqsim/sim/stats"
)

// Model simulates one resolved model.
//
// Thread-safety: NOT thread-safe. Run must not be called concurrently.
type Model struct {
	model   *model.Model
	pragmas model.Pragmas
	sink    sink.Sink
	log     *logrus.Entry

	// per run
	k        *kernel.Kernel
	rng      *rand.Rand
	arrivals *rand.Rand
	tasks    []*taskState
	errors   int
	fatal    error
	tokens   uint64
}

// Option configures a Model.
type Option func(*Model)

// WithSink sets the result sink. The default discards results.
func WithSink(s sink.Sink) Option { return func(e *Model) { e.sink = s } }

// WithLogger sets the log entry runtime errors and progress are logged on.
func WithLogger(l *logrus.Entry) Option { return func(e *Model) { e.log = l } }

// New prepares m for simulation with the model's pragmas.
func New(m *model.Model, opts ...Option) *Model {
	e := &Model{
		model:   m,
		pragmas: m.Pragmas.WithDefaults(),
		sink:    sink.Discard{},
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summary describes a finished run.
type Summary struct {
	Batches       int      `yaml:"batches"`
	RMSConfidence float64  `yaml:"rms_confidence"`
	Converged     bool     `yaml:"converged"`
	SimulatedTime float64  `yaml:"simulated_time"`
	RuntimeErrors int      `yaml:"runtime_errors"`
	Advisories    []string `yaml:"advisories,omitempty"`
}

// Run simulates the model. Cancellation of ctx is honoured between
// batches. Results are left in the model's stats.Result fields and
// published to the sink.
func (e *Model) Run(ctx context.Context) (*Summary, error) {
	e.setup()
	defer e.k.Shutdown()

	p := e.pragmas
	sum := &Summary{}
	if p.InitialDelay > 0 {
		e.k.RunUntil(p.InitialDelay)
		if e.fatal != nil {
			return e.finish(sum), e.fatal
		}
	}
	e.reset(e.k.Now())
	e.log.WithFields(logrus.Fields{"warmup": p.InitialDelay, "period": p.BlockPeriod}).Debug("warm-up done")

	for b := 1; b <= p.MaxBlocks; b++ {
		if err := ctx.Err(); err != nil {
			return e.finish(sum), fmt.Errorf("simulation cancelled after %d batches: %w", b-1, err)
		}
		e.k.RunUntil(e.k.Now() + p.BlockPeriod)
		if e.fatal != nil {
			return e.finish(sum), e.fatal
		}
		e.accumulate(e.k.Now())
		rms := stats.RMSConfidence(e.model.CycleTimes())
		sum.Batches, sum.RMSConfidence = b, rms
		e.publish()
		e.sink.SetBatch(b, rms)
		e.log.WithFields(logrus.Fields{"batch": b, "time": e.k.Now(), "rms": rms}).Debug("batch accumulated")
		if p.Precision > 0 && b >= 2 && rms <= p.Precision {
			sum.Converged = true
			break
		}
	}
	e.publish()
	if p.FloatAdvisories {
		sum.Advisories = e.advisories()
		for _, a := range sum.Advisories {
			e.log.Warn(a)
		}
	}
	return e.finish(sum), nil
}

func (e *Model) finish(sum *Summary) *Summary {
	sum.SimulatedTime = e.k.Now()
	sum.RuntimeErrors = e.errors
	return sum
}

// setup creates the kernel, the processors and task states, and spawns
// every instance and arrival generator.
func (e *Model) setup() {
	e.k = kernel.New()
	rngs := sim.NewPartitionedRNG(sim.NewSimulationKey(e.pragmas.Seed))
	e.rng = rngs.ForSubsystem(sim.SubsystemEngine)
	e.arrivals = rngs.ForSubsystem(sim.SubsystemArrivals)
	e.errors, e.fatal, e.tokens = 0, nil, 0

	for _, r := range e.model.Results() {
		r.ResetStats()
	}
	for _, h := range e.model.Histograms() {
		h.Reset()
	}

	procs := make([]*kernel.Processor, len(e.model.Processors))
	for i, mp := range e.model.Processors {
		procs[i] = e.newProcessor(mp)
	}
	e.tasks = make([]*taskState, len(e.model.Tasks))
	for i, t := range e.model.Tasks {
		t.JoinStart = 0
		e.tasks[i] = &taskState{
			eng:   e,
			t:     t,
			proc:  procs[t.Processor.ID],
			queue: e.k.NewPort(t.Name),
		}
	}
	for _, ts := range e.tasks {
		ts.start()
	}
	for _, en := range e.model.Entries() {
		if en.IsOpen() {
			e.startArrivals(en)
		}
	}
}

func (e *Model) newProcessor(mp *model.Processor) *kernel.Processor {
	var disc kernel.Discipline
	switch mp.Scheduling {
	case model.SchedPriority:
		disc = kernel.Priority
	case model.SchedInfinite:
		disc = kernel.Infinite
	case model.SchedRoundRobin:
		disc = kernel.RoundRobin
	default:
		disc = kernel.FCFS
	}
	kp := e.k.NewProcessor(mp.Name, mp.Multiplicity, disc, mp.Quantum)
	util := mp.Utilization
	kp.Observe = func(now float64, busy int) { util.Set(now, float64(busy)) }
	return kp
}

func (e *Model) reset(now float64) {
	for _, r := range e.model.Results() {
		r.Reset(now)
	}
	for _, h := range e.model.Histograms() {
		h.Reset()
	}
}

func (e *Model) accumulate(now float64) {
	for _, r := range e.model.Results() {
		r.Accumulate(now)
	}
}

// runtimeError counts err and aborts the run once the threshold is
// crossed.
func (e *Model) runtimeError(err *RuntimeError) {
	e.errors++
	e.log.WithFields(logrus.Fields{"count": e.errors}).Warn(err.Error())
	if e.errors > e.pragmas.ErrorThreshold && e.fatal == nil {
		e.fatal = fmt.Errorf("%w: %d errors, last: %w", ErrErrorThreshold, e.errors, err)
		e.k.Stop()
	}
}

func (e *Model) nextToken() uint64 {
	e.tokens++
	return e.tokens
}

// exponential samples an exponential variate with the given mean.
func exponential(rng *rand.Rand, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return rng.ExpFloat64() * mean
}

// draw picks an index with probability proportional to weights, which sum
// to total.
func draw(rng *rand.Rand, weights []float64, total float64) int {
	u := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if u < cum {
			return i
		}
	}
	return len(weights) - 1
}

// callCount samples how many times a call is made during one activity:
// geometric with the call's mean, or the integer part plus a Bernoulli
// trial on the fraction when the activity is deterministic.
func callCount(rng *rand.Rand, mean float64, deterministic bool) int {
	if mean <= 0 {
		return 0
	}
	if deterministic {
		n := int(mean)
		if frac := mean - float64(n); frac > 0 && rng.Float64() < frac {
			n++
		}
		return n
	}
	p := mean / (1 + mean)
	n := 0
	for rng.Float64() < p {
		n++
	}
	return n
}
