// Package model holds the typed, validated layered-queueing model.
//
// A Model is built once from a declarative Spec by Build, which also runs
// the configure pass that resolves every task's activity graph. After Build
// returns, topology is read-only: the engine writes only the stats.Result
// fields and the per-task join timestamp.
//
// Activities and activity lists live in per-task arenas and refer to each
// other by ordinal (ActivityID, ListID). AND-fork/AND-join bindings are kept
// in the owning task's cross-reference maps instead of inside the lists.
package model

import (
	"github.com/layeredqueuing/lqsim/sim/stats"
)

// ActivityID is the ordinal of an activity within its task.
type ActivityID int

// ListID is the ordinal of an activity list within its task.
type ListID int

const (
	NoActivity ActivityID = -1
	NoList     ListID     = -1
)

// MaxPhases is the most phases a regular entry may declare.
const MaxPhases = 3

// Model is a resolved layered queueing network.
type Model struct {
	Pragmas    Pragmas
	Processors []*Processor
	Tasks      []*Task

	// Warnings collects non-fatal findings of the configure pass.
	Warnings []string
}

// Processor hosts tasks.
type Processor struct {
	ID           int
	Name         string
	Scheduling   Scheduling
	Multiplicity int
	Quantum      float64

	Utilization *stats.Result
}

// Task owns its entries, activities and activity lists.
type Task struct {
	ID           int
	Name         string
	Kind         TaskKind
	Processor    *Processor
	Multiplicity int
	Priority     int
	ThinkTime    float64
	QueueLength  int

	Entries    []*Entry
	Activities []*Activity
	Lists      []*ActivityList

	// MaxPhases is the highest phase of any entry that does work.
	MaxPhases int
	// SyncServer is set when the task has a synchronization join.
	SyncServer bool
	// JoinStart is the time the open synchronization join started. There is
	// one per task: at most one synchronization join is in flight at a time.
	JoinStart float64

	forkOf map[ListID]ListID // AND_JOIN -> AND_FORK
	joinOf map[ListID]ListID // AND_FORK -> AND_JOIN

	Utilization *stats.Result
}

// Activity returns the activity with the given ordinal.
func (t *Task) Activity(id ActivityID) *Activity { return t.Activities[id] }

// List returns the activity list with the given ordinal.
func (t *Task) List(id ListID) *ActivityList { return t.Lists[id] }

// ForkFor returns the AND_FORK bound to an internal AND_JOIN.
func (t *Task) ForkFor(join ListID) (ListID, bool) {
	f, ok := t.forkOf[join]
	return f, ok
}

// JoinFor returns the AND_JOIN bound to an AND_FORK.
func (t *Task) JoinFor(fork ListID) (ListID, bool) {
	j, ok := t.joinOf[fork]
	return j, ok
}

func (t *Task) bind(fork, join ListID) {
	t.forkOf[join] = fork
	t.joinOf[fork] = join
}

// Entry is an addressable endpoint of a task.
type Entry struct {
	ID      int // model-wide ordinal
	Name    string
	Task    *Task
	Kind    EntryKind
	Receive ReceiveKind

	// Phases holds the phase activities of a regular entry, phase i at
	// index i-1.
	Phases []ActivityID
	// Start is the root activity of an activity entry.
	Start ActivityID

	OpenArrivalRate float64
	Semaphore       SemaphoreRole
	Histogram       *stats.Histogram

	CycleTime    *stats.Result
	PhaseService [MaxPhases]*stats.Result
	OpenWait     *stats.Result
}

// IsOpen reports whether the entry has an open arrival stream.
func (e *Entry) IsOpen() bool { return e.OpenArrivalRate > 0 }

// Activity is a unit of work: a phase of a regular entry or a node of an
// activity graph.
type Activity struct {
	ID            ActivityID
	Name          string
	IsPhase       bool
	Phase         int
	ServiceTime   float64
	CV2           float64
	ThinkTime     float64
	Deterministic bool
	Calls         []*Call
	Replies       []*Entry

	Input  ListID
	Output ListID

	service Distribution

	Service        *stats.Result // demand and calls, after think time
	Utilization    *stats.Result
	ProcessorDelay *stats.Result
	CycleTime      *stats.Result // think time through the last reply
}

// Work reports whether executing the activity takes time or makes calls.
func (a *Activity) Work() bool {
	return a.ServiceTime > 0 || a.ThinkTime > 0 || len(a.Calls) > 0
}

// Distribution returns the service-time distribution.
func (a *Activity) Distribution() Distribution { return a.service }

// Forwards returns the forwarding calls of the activity.
func (a *Activity) Forwards() []*Call {
	var out []*Call
	for _, c := range a.Calls {
		if c.Kind == CallForward {
			out = append(out, c)
		}
	}
	return out
}

// ActivityList is a connective between activities. Join-side kinds are the
// output of their activities and link through Next to the fork-side list
// that follows; fork-side kinds are the input of their activities.
type ActivityList struct {
	ID         ListID
	Kind       ListKind
	Activities []ActivityID
	Next       ListID // join side -> fork side
	Prev       ListID // fork side -> join side

	Probabilities []float64 // OR_FORK
	Counts        []float64 // LOOP
	LoopTotal     float64
	LoopEnd       ActivityID

	Quorum   int // AND_JOIN, 0 = every branch
	JoinKind JoinKind

	JoinDelay *stats.Result
}

// QuorumCount returns the number of branches the join waits for.
func (l *ActivityList) QuorumCount() int {
	if l.Quorum > 0 {
		return l.Quorum
	}
	return len(l.Activities)
}

// Call is a request issued by an activity.
type Call struct {
	Kind   CallKind
	Mean   float64 // call count, or forwarding probability
	Source *Task
	From   ActivityID
	To     *Entry

	Delay *stats.Result
	Loss  *stats.Result
}

// Entries returns every entry of the model in ordinal order.
func (m *Model) Entries() []*Entry {
	var out []*Entry
	for _, t := range m.Tasks {
		out = append(out, t.Entries...)
	}
	return out
}

// CycleTimes returns the cycle-time result of every entry, the set the
// stopping rule is computed over.
func (m *Model) CycleTimes() []*stats.Result {
	var out []*stats.Result
	for _, e := range m.Entries() {
		out = append(out, e.CycleTime)
	}
	return out
}

// Results returns every result of the model.
func (m *Model) Results() []*stats.Result {
	var out []*stats.Result
	for _, p := range m.Processors {
		out = append(out, p.Utilization)
	}
	for _, t := range m.Tasks {
		out = append(out, t.Utilization)
		for _, e := range t.Entries {
			out = append(out, e.CycleTime, e.OpenWait)
			out = append(out, e.PhaseService[:]...)
		}
		for _, a := range t.Activities {
			out = append(out, a.Service, a.Utilization, a.ProcessorDelay, a.CycleTime)
			for _, c := range a.Calls {
				out = append(out, c.Delay, c.Loss)
			}
		}
		for _, l := range t.Lists {
			if l.JoinDelay != nil {
				out = append(out, l.JoinDelay)
			}
		}
	}
	return out
}

// Histograms returns the histograms attached to entries.
func (m *Model) Histograms() []*stats.Histogram {
	var out []*stats.Histogram
	for _, e := range m.Entries() {
		if e.Histogram != nil {
			out = append(out, e.Histogram)
		}
	}
	return out
}
