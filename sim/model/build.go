package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/layeredqueuing/lqsim/sim/stats"
)

// builder carries the name registries used while a Model is constructed.
// It is discarded once Build returns.
type builder struct {
	m          *Model
	processors map[string]*Processor
	tasks      map[string]*Task
	entries    map[string]*Entry
	activities map[*Task]map[string]ActivityID

	starts  map[*Entry]string
	pending []pendingActivity
	errs    []error
}

// pendingActivity holds the name references of an activity that can only
// be resolved once every task and entry is registered.
type pendingActivity struct {
	task    *Task
	act     *Activity
	entry   *Entry // owning entry of a phase
	calls   []CallSpec
	replies []string
}

func (b *builder) fail(err error) { b.errs = append(b.errs, err) }

// Build validates spec and produces a resolved Model. All configuration
// errors found are returned together, each a *ModelError.
func Build(spec *Spec) (*Model, error) {
	if spec == nil {
		return nil, errors.New("model: nil spec")
	}
	pragmas := spec.Pragmas.WithDefaults()
	if err := pragmas.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pragmas: %w", err)
	}
	b := &builder{
		m:          &Model{Pragmas: pragmas},
		processors: make(map[string]*Processor),
		tasks:      make(map[string]*Task),
		entries:    make(map[string]*Entry),
		activities: make(map[*Task]map[string]ActivityID),
		starts:     make(map[*Entry]string),
	}

	for _, ps := range spec.Processors {
		b.addProcessor(ps)
	}
	if len(spec.Tasks) == 0 {
		b.fail(errorf(ErrInvalidParameter, "", "", "", "model has no tasks"))
	}
	for _, ts := range spec.Tasks {
		b.addTask(ts)
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	for i := range spec.Tasks {
		b.link(b.m.Tasks[i], spec.Tasks[i])
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	b.checkEntries()
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	if errs := configure(b.m); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b.m, nil
}

func (b *builder) addProcessor(ps ProcessorSpec) {
	if ps.Name == "" {
		b.fail(errorf(ErrInvalidParameter, "", "", "", "processor without a name"))
		return
	}
	if _, dup := b.processors[ps.Name]; dup {
		b.fail(errorf(ErrDuplicateName, "", "", "", "processor %s", ps.Name))
		return
	}
	sched := Scheduling(ps.Scheduling)
	if !validScheduling[sched] {
		b.fail(errorf(ErrInvalidParameter, "", "", "", "processor %s: unknown scheduling %q", ps.Name, ps.Scheduling))
		return
	}
	if sched == "" {
		sched = SchedFCFS
	}
	mult := ps.Multiplicity
	if mult == 0 {
		mult = 1
	}
	if mult < 0 {
		b.fail(errorf(ErrInvalidParameter, "", "", "", "processor %s: multiplicity %d", ps.Name, ps.Multiplicity))
		return
	}
	if sched == SchedRoundRobin && !(ps.Quantum > 0) {
		b.fail(errorf(ErrInvalidParameter, "", "", "", "processor %s: round-robin needs a positive quantum", ps.Name))
		return
	}
	p := &Processor{
		ID:           len(b.m.Processors),
		Name:         ps.Name,
		Scheduling:   sched,
		Multiplicity: mult,
		Quantum:      ps.Quantum,
		Utilization:  stats.NewVariable(ps.Name + ".utilization"),
	}
	b.processors[p.Name] = p
	b.m.Processors = append(b.m.Processors, p)
}

func (b *builder) addTask(ts TaskSpec) {
	if ts.Name == "" {
		b.fail(errorf(ErrInvalidParameter, "", "", "", "task without a name"))
		return
	}
	if _, dup := b.tasks[ts.Name]; dup {
		b.fail(errorf(ErrDuplicateName, ts.Name, "", "", "task"))
		return
	}
	kind, ok := taskKindNames[ts.Kind]
	if !ok {
		b.fail(errorf(ErrInvalidParameter, ts.Name, "", "", "unknown task kind %q", ts.Kind))
		return
	}
	proc, ok := b.processors[ts.Processor]
	if !ok {
		b.fail(errorf(ErrUnknownName, ts.Name, "", "", "processor %q", ts.Processor))
		return
	}
	mult := ts.Multiplicity
	if mult == 0 {
		mult = 1
	}
	switch {
	case mult < 0:
		b.fail(errorf(ErrInvalidParameter, ts.Name, "", "", "multiplicity %d", ts.Multiplicity))
		return
	case ts.ThinkTime < 0 || math.IsNaN(ts.ThinkTime) || math.IsInf(ts.ThinkTime, 0):
		b.fail(errorf(ErrInvalidParameter, ts.Name, "", "", "think time %g", ts.ThinkTime))
		return
	case ts.QueueLength < 0:
		b.fail(errorf(ErrInvalidParameter, ts.Name, "", "", "queue length %d", ts.QueueLength))
		return
	}

	t := &Task{
		ID:           len(b.m.Tasks),
		Name:         ts.Name,
		Kind:         kind,
		Processor:    proc,
		Multiplicity: mult,
		Priority:     ts.Priority,
		ThinkTime:    ts.ThinkTime,
		QueueLength:  ts.QueueLength,
		forkOf:       make(map[ListID]ListID),
		joinOf:       make(map[ListID]ListID),
		Utilization:  stats.NewVariable(ts.Name + ".utilization"),
	}
	b.tasks[t.Name] = t
	b.activities[t] = make(map[string]ActivityID)
	b.m.Tasks = append(b.m.Tasks, t)

	switch {
	case len(ts.Entries) == 0:
		b.fail(errorf(ErrEntryDefinition, t.Name, "", "", "task has no entries"))
	case kind == TaskReference && len(ts.Entries) != 1:
		b.fail(errorf(ErrReferenceEntries, t.Name, "", "", "%d entries", len(ts.Entries)))
	}
	for _, es := range ts.Entries {
		b.addEntry(t, es)
	}
	for _, as := range ts.Activities {
		if as.Name == "" {
			b.fail(errorf(ErrInvalidParameter, t.Name, "", "", "activity without a name"))
			continue
		}
		if _, dup := b.activities[t][as.Name]; dup {
			b.fail(errorf(ErrDuplicateName, t.Name, "", as.Name, "activity"))
			continue
		}
		a := b.newActivity(t, as.Name, as, 1, nil)
		if a != nil {
			b.activities[t][a.Name] = a.ID
		}
	}

	if kind == TaskSemaphore {
		var signals, waits int
		for _, e := range t.Entries {
			switch e.Semaphore {
			case SemaphoreSignal:
				signals++
			case SemaphoreWait:
				waits++
			}
		}
		if signals != 1 || waits != 1 || len(t.Entries) != 2 {
			b.fail(errorf(ErrEntryDefinition, t.Name, "", "", "semaphore task needs exactly one signal and one wait entry"))
		}
	}
}

func (b *builder) addEntry(t *Task, es EntrySpec) {
	if es.Name == "" {
		b.fail(errorf(ErrInvalidParameter, t.Name, "", "", "entry without a name"))
		return
	}
	if _, dup := b.entries[es.Name]; dup {
		b.fail(errorf(ErrDuplicateName, t.Name, es.Name, "", "entry"))
		return
	}
	role, ok := semaphoreNames[es.Semaphore]
	if !ok {
		b.fail(errorf(ErrInvalidParameter, t.Name, es.Name, "", "unknown semaphore role %q", es.Semaphore))
		return
	}
	if role != SemaphoreNone && t.Kind != TaskSemaphore {
		b.fail(errorf(ErrInvalidParameter, t.Name, es.Name, "", "semaphore role on a %s task", t.Kind))
		return
	}
	if es.OpenArrivalRate < 0 || math.IsNaN(es.OpenArrivalRate) || math.IsInf(es.OpenArrivalRate, 0) {
		b.fail(errorf(ErrInvalidParameter, t.Name, es.Name, "", "open arrival rate %g", es.OpenArrivalRate))
		return
	}
	if len(es.Phases) > 0 && es.Start != "" {
		b.fail(errorf(ErrEntryDefinition, t.Name, es.Name, "", "both phases and start activity given"))
		return
	}
	if len(es.Phases) > MaxPhases {
		b.fail(errorf(ErrTooManyPhases, t.Name, es.Name, "", "%d phases, at most %d", len(es.Phases), MaxPhases))
		return
	}

	e := &Entry{
		ID:              len(b.entries),
		Name:            es.Name,
		Task:            t,
		Start:           NoActivity,
		OpenArrivalRate: es.OpenArrivalRate,
		Semaphore:       role,
		CycleTime:       stats.NewSample(es.Name + ".cycle"),
		OpenWait:        stats.NewSample(es.Name + ".open_wait"),
	}
	for i := range e.PhaseService {
		e.PhaseService[i] = stats.NewSample(fmt.Sprintf("%s.phase%d", es.Name, i+1))
	}
	if h := es.Histogram; h != nil {
		hist, err := stats.NewHistogram(h.Min, h.Max, h.Bins)
		if err != nil {
			b.fail(errorf(ErrInvalidParameter, t.Name, es.Name, "", "%v", err))
			return
		}
		e.Histogram = hist
	}
	b.entries[e.Name] = e
	t.Entries = append(t.Entries, e)

	if es.Start != "" {
		e.Kind = EntryActivity
		b.starts[e] = es.Start
		return
	}
	phases := es.Phases
	if len(phases) == 0 {
		phases = []ActivitySpec{{}}
	}
	for i, ps := range phases {
		if len(ps.Replies) > 0 {
			b.fail(errorf(ErrInvalidParameter, t.Name, e.Name, "", "phase %d declares replies", i+1))
			continue
		}
		a := b.newActivity(t, fmt.Sprintf("%s_ph%d", e.Name, i+1), ps, i+1, e)
		if a != nil {
			a.IsPhase = true
			e.Phases = append(e.Phases, a.ID)
		}
	}
}

func (b *builder) newActivity(t *Task, name string, as ActivitySpec, phase int, owner *Entry) *Activity {
	cv2 := 1.0
	if as.CV2 != nil {
		cv2 = *as.CV2
	}
	dist, err := NewDistribution(as.ServiceTime, cv2)
	if err != nil {
		b.fail(errorf(ErrInvalidParameter, t.Name, entryName(owner), name, "%v", err))
		return nil
	}
	if as.ThinkTime < 0 || math.IsNaN(as.ThinkTime) || math.IsInf(as.ThinkTime, 0) {
		b.fail(errorf(ErrInvalidParameter, t.Name, entryName(owner), name, "think time %g", as.ThinkTime))
		return nil
	}
	a := &Activity{
		ID:             ActivityID(len(t.Activities)),
		Name:           name,
		Phase:          phase,
		ServiceTime:    as.ServiceTime,
		CV2:            cv2,
		ThinkTime:      as.ThinkTime,
		Deterministic:  as.Deterministic,
		Input:          NoList,
		Output:         NoList,
		service:        dist,
		Service:        stats.NewSample(t.Name + "." + name + ".service"),
		Utilization:    stats.NewVariable(t.Name + "." + name + ".utilization"),
		ProcessorDelay: stats.NewSample(t.Name + "." + name + ".processor_delay"),
		CycleTime:      stats.NewSample(t.Name + "." + name + ".cycle_time"),
	}
	t.Activities = append(t.Activities, a)
	b.pending = append(b.pending, pendingActivity{task: t, act: a, entry: owner, calls: as.Calls, replies: as.Replies})
	return a
}

func entryName(e *Entry) string {
	if e == nil {
		return ""
	}
	return e.Name
}

// link resolves the name references of one task: start activities, calls,
// replies and precedence lists.
func (b *builder) link(t *Task, ts TaskSpec) {
	for _, e := range t.Entries {
		name, ok := b.starts[e]
		if !ok {
			continue
		}
		id, ok := b.activities[t][name]
		if !ok {
			b.fail(errorf(ErrUnknownName, t.Name, e.Name, "", "start activity %q", name))
			continue
		}
		e.Start = id
	}
	for _, pa := range b.pending {
		if pa.task == t {
			b.linkActivity(pa)
		}
	}
	for _, ps := range ts.Precedence {
		b.addPrecedence(t, ps)
	}
}

func (b *builder) linkActivity(pa pendingActivity) {
	t, a := pa.task, pa.act
	owner := entryName(pa.entry)
	var forward float64
	for _, cs := range pa.calls {
		kind, ok := callKindNames[cs.Type]
		if !ok {
			b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "unknown call type %q", cs.Type))
			continue
		}
		to, ok := b.entries[cs.To]
		if !ok {
			b.fail(errorf(ErrUnknownName, t.Name, owner, a.Name, "call target %q", cs.To))
			continue
		}
		if cs.Mean < 0 || math.IsNaN(cs.Mean) || math.IsInf(cs.Mean, 0) {
			b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "call mean %g to %s", cs.Mean, cs.To))
			continue
		}
		if to.Task == t {
			b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "call to %s of the same task", to.Name))
			continue
		}
		if to.Task.Kind == TaskReference {
			b.fail(errorf(ErrReferenceCalled, t.Name, owner, a.Name, "call to %s", to.Name))
			continue
		}
		recv := ReceiveRendezvous
		if kind == CallSend {
			recv = ReceiveSendNoReply
		}
		if kind == CallForward {
			switch {
			case a.IsPhase && a.Phase != 1:
				b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "forward to %s from phase %d, after the reply", cs.To, a.Phase))
				continue
			case !a.IsPhase && len(pa.replies) == 0:
				b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "forward to %s from an activity that sends no reply", cs.To))
				continue
			}
			if cs.Mean > 1 {
				b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "forwarding probability %g to %s", cs.Mean, cs.To))
				continue
			}
			forward += cs.Mean
		}
		if to.Receive != ReceiveNone && to.Receive != recv {
			b.fail(errorf(ErrMixedReceive, to.Task.Name, to.Name, "", "called by %s.%s", t.Name, a.Name))
			continue
		}
		to.Receive = recv
		label := a.Name + "->" + to.Name
		a.Calls = append(a.Calls, &Call{
			Kind:   kind,
			Mean:   cs.Mean,
			Source: t,
			From:   a.ID,
			To:     to,
			Delay:  stats.NewSample(t.Name + "." + label + ".delay"),
			Loss:   stats.NewSample(t.Name + "." + label + ".loss"),
		})
	}
	if forward > 1+probabilityTolerance {
		b.fail(errorf(ErrInvalidParameter, t.Name, owner, a.Name, "forwarding probabilities sum to %g", forward))
	}
	for _, name := range pa.replies {
		e, ok := b.entries[name]
		if !ok {
			b.fail(errorf(ErrUnknownName, t.Name, owner, a.Name, "reply entry %q", name))
			continue
		}
		if e.Task != t {
			b.fail(errorf(ErrReplyOtherTask, t.Name, owner, a.Name, "reply to %s of task %s", e.Name, e.Task.Name))
			continue
		}
		a.Replies = append(a.Replies, e)
	}
}

func (b *builder) addPrecedence(t *Task, ps PrecedenceSpec) {
	bad := func(format string, args ...any) {
		b.fail(errorf(ErrBadPrecedence, t.Name, "", "", format, args...))
	}
	if len(ps.Pre) == 0 {
		bad("precedence without pre activities")
		return
	}
	var preKind ListKind
	switch ps.PreType {
	case "":
		preKind = ListJoin
		if len(ps.Pre) != 1 {
			bad("single pre list with %d activities", len(ps.Pre))
			return
		}
	case "and":
		preKind = ListAndJoin
	case "or":
		preKind = ListOrJoin
	default:
		bad("unknown pre type %q", ps.PreType)
		return
	}
	if ps.Quorum != 0 {
		if preKind != ListAndJoin {
			b.fail(errorf(ErrQuorum, t.Name, "", "", "quorum on a %s list", preKind))
			return
		}
		if ps.Quorum < 0 || ps.Quorum > len(ps.Pre) {
			b.fail(errorf(ErrQuorum, t.Name, "", "", "quorum %d of %d branches", ps.Quorum, len(ps.Pre)))
			return
		}
	}

	var postKind ListKind
	switch ps.PostType {
	case "":
		postKind = ListFork
		if len(ps.Post) > 1 {
			bad("single post list with %d activities", len(ps.Post))
			return
		}
	case "and":
		postKind = ListAndFork
	case "or":
		postKind = ListOrFork
		if len(ps.Probabilities) != len(ps.Post) {
			bad("%d probabilities for %d OR branches", len(ps.Probabilities), len(ps.Post))
			return
		}
	case "loop":
		postKind = ListLoop
		if len(ps.Counts) != len(ps.Post) {
			bad("%d counts for %d loop branches", len(ps.Counts), len(ps.Post))
			return
		}
	default:
		bad("unknown post type %q", ps.PostType)
		return
	}
	if postKind != ListFork && len(ps.Post) == 0 {
		bad("%s list without activities", postKind)
		return
	}
	if ps.End != "" && postKind != ListLoop {
		bad("end activity on a %s list", postKind)
		return
	}

	pre, ok := b.lookupAll(t, ps.Pre)
	if !ok {
		return
	}
	post, ok := b.lookupAll(t, ps.Post)
	if !ok {
		return
	}

	join := b.newList(t, preKind, pre)
	join.Quorum = ps.Quorum
	if preKind == ListAndJoin {
		join.JoinDelay = stats.NewSample(fmt.Sprintf("%s.join%d.delay", t.Name, join.ID))
	}
	for _, id := range pre {
		a := t.Activity(id)
		if a.Output != NoList {
			b.fail(errorf(ErrListReassigned, t.Name, "", a.Name, "output already %s", t.List(a.Output).Kind))
			continue
		}
		a.Output = join.ID
	}
	if len(post) == 0 {
		return
	}

	fork := b.newList(t, postKind, post)
	fork.Probabilities = append([]float64(nil), ps.Probabilities...)
	fork.Counts = append([]float64(nil), ps.Counts...)
	join.Next, fork.Prev = fork.ID, join.ID
	for _, id := range post {
		a := t.Activity(id)
		if a.Input != NoList {
			b.fail(errorf(ErrListReassigned, t.Name, "", a.Name, "input already %s", t.List(a.Input).Kind))
			continue
		}
		a.Input = fork.ID
	}
	if ps.End != "" {
		ends, ok := b.lookupAll(t, []string{ps.End})
		if !ok {
			return
		}
		end := t.Activity(ends[0])
		if end.Input != NoList {
			b.fail(errorf(ErrListReassigned, t.Name, "", end.Name, "input already %s", t.List(end.Input).Kind))
			return
		}
		end.Input = fork.ID
		fork.LoopEnd = end.ID
	}
}

func (b *builder) newList(t *Task, kind ListKind, acts []ActivityID) *ActivityList {
	l := &ActivityList{
		ID:         ListID(len(t.Lists)),
		Kind:       kind,
		Activities: acts,
		Next:       NoList,
		Prev:       NoList,
		LoopEnd:    NoActivity,
	}
	t.Lists = append(t.Lists, l)
	return l
}

func (b *builder) lookupAll(t *Task, names []string) ([]ActivityID, bool) {
	ids := make([]ActivityID, 0, len(names))
	seen := make(map[ActivityID]bool, len(names))
	for _, name := range names {
		id, ok := b.activities[t][name]
		if !ok {
			b.fail(errorf(ErrUnknownName, t.Name, "", "", "activity %q", name))
			return nil, false
		}
		if seen[id] {
			b.fail(errorf(ErrBadPrecedence, t.Name, "", name, "activity listed twice"))
			return nil, false
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, true
}

// checkEntries enforces the rules that need every call to be known.
func (b *builder) checkEntries() {
	for _, t := range b.m.Tasks {
		for _, e := range t.Entries {
			if !e.IsOpen() {
				continue
			}
			if t.Kind == TaskReference || e.Receive == ReceiveRendezvous {
				b.fail(errorf(ErrOpenClosed, t.Name, e.Name, "", "open arrivals on an entry with closed callers"))
			}
		}
	}
}
