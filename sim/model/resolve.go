package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// probabilityTolerance bounds the error allowed on a probability sum.
const probabilityTolerance = 1e-6

// configure is the one-time resolution pass over a built model: it checks
// list payloads, walks every activity graph to detect cycles and classify
// AND-joins, assigns phases and computes per-task phase counts.
func configure(m *Model) []error {
	var errs []error
	for _, t := range m.Tasks {
		errs = append(errs, checkLists(t)...)
	}
	if len(errs) > 0 {
		return errs
	}
	for _, t := range m.Tasks {
		errs = append(errs, resolveTask(m, t)...)
	}
	return errs
}

func checkLists(t *Task) []error {
	var errs []error
	for _, l := range t.Lists {
		switch l.Kind {
		case ListOrFork:
			var sum float64
			valid := true
			for _, p := range l.Probabilities {
				if math.IsNaN(p) || p < 0 || p > 1 {
					valid = false
				}
				sum += p
			}
			if !valid || math.Abs(sum-1) > probabilityTolerance {
				errs = append(errs, errorf(ErrOrBranchProbabilities, t.Name, "", t.Activity(l.Activities[0]).Name,
					"probabilities %v sum to %g", l.Probabilities, sum))
			}
		case ListLoop:
			l.LoopTotal = 0
			for _, c := range l.Counts {
				if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
					errs = append(errs, errorf(ErrInvalidParameter, t.Name, "", t.Activity(l.Activities[0]).Name,
						"loop count %g", c))
					continue
				}
				l.LoopTotal += c
			}
		case ListFork, ListAndFork, ListJoin, ListAndJoin, ListOrJoin:
		}
	}
	return errs
}

// pathState is the part of the traversal state that belongs to one path.
// Slices are copied before they are extended so sibling paths never share
// backing arrays.
type pathState struct {
	phase   int
	replied []*Entry
	forks   []ListID // live AND_FORKs, innermost last
}

func (s pathState) withFork(f ListID) pathState {
	s.forks = append(append([]ListID(nil), s.forks...), f)
	return s
}

func (s pathState) withReply(e *Entry) pathState {
	s.replied = append(append([]*Entry(nil), s.replied...), e)
	return s
}

func (s pathState) hasReplied(e *Entry) bool {
	for _, prev := range s.replied {
		if prev == e {
			return true
		}
	}
	return false
}

// withoutFork drops f and every fork opened after it.
func (s pathState) withoutFork(f ListID) pathState {
	for i := len(s.forks) - 1; i >= 0; i-- {
		if s.forks[i] == f {
			s.forks = append([]ListID(nil), s.forks[:i]...)
			break
		}
	}
	return s
}

// reply is a reply target together with the activity sending it.
type reply struct {
	entry *Entry
	by    *Activity
}

// forkFrame tracks an AND_FORK whose branches are being walked: the replies
// sent on each branch, and the path states that reached its join.
type forkFrame struct {
	fork     ListID
	branch   int
	replies  [][]reply
	arrivals []pathState
}

type resolver struct {
	task    *Task
	entry   *Entry
	path    []ActivityID
	onPath  []bool
	reached []bool
	replies bool // the current entry replied on some path
	phases  int  // highest phase doing work under the current entry

	frames   []*forkFrame
	expanded map[string]bool // join states already walked for the current entry
}

func resolveTask(m *Model, t *Task) []error {
	var errs []error
	r := &resolver{
		task:    t,
		onPath:  make([]bool, len(t.Activities)),
		reached: make([]bool, len(t.Activities)),
	}
	t.MaxPhases = 1
	for _, e := range t.Entries {
		if e.Kind != EntryActivity {
			for i, id := range e.Phases {
				if t.Activity(id).Work() && i+1 > t.MaxPhases {
					t.MaxPhases = i + 1
				}
			}
			continue
		}
		r.entry, r.replies, r.phases = e, false, 1
		r.frames, r.expanded = nil, make(map[string]bool)
		if err := r.visit(e.Start, pathState{phase: 1}); err != nil {
			errs = append(errs, err)
			continue
		}
		if r.phases > t.MaxPhases {
			t.MaxPhases = r.phases
		}
		if e.Receive == ReceiveRendezvous && !r.replies {
			m.warn("task %s, entry %s: called by rendezvous but no activity replies", t.Name, e.Name)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	for _, a := range t.Activities {
		if !a.IsPhase && !r.reached[a.ID] {
			m.warn("task %s, activity %s: not reachable from any entry", t.Name, a.Name)
		}
	}
	if t.SyncServer {
		switch {
		case t.Kind == TaskReference || t.Kind == TaskInfinite:
			errs = append(errs, errorf(ErrSyncMultiplicity, t.Name, "", "", "synchronization on a %s task", t.Kind))
		case t.Multiplicity != 1:
			errs = append(errs, errorf(ErrSyncMultiplicity, t.Name, "", "", "multiplicity %d", t.Multiplicity))
		}
	}
	return errs
}

func (m *Model) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.Warnings = append(m.Warnings, msg)
	logrus.Warn(msg)
}

func (r *resolver) visit(id ActivityID, st pathState) error {
	t := r.task
	a := t.Activity(id)
	if r.onPath[id] {
		names := make([]string, 0, len(r.path)+1)
		for _, p := range r.path {
			names = append(names, t.Activity(p).Name)
		}
		return &ModelError{
			Err:      ErrActivityCycle,
			Task:     t.Name,
			Entry:    r.entry.Name,
			Activity: a.Name,
			Path:     append(names, a.Name),
		}
	}
	r.onPath[id] = true
	r.path = append(r.path, id)
	defer func() {
		r.onPath[id] = false
		r.path = r.path[:len(r.path)-1]
	}()
	r.reached[id] = true

	if st.phase > a.Phase {
		a.Phase = st.phase
	}
	if a.Work() && a.Phase > r.phases {
		r.phases = a.Phase
	}
	for _, e := range a.Replies {
		if st.hasReplied(e) {
			return errorf(ErrDuplicateReply, t.Name, e.Name, a.Name, "second reply on one path")
		}
		if err := r.recordReply(e, a); err != nil {
			return err
		}
		st = st.withReply(e)
		if e == r.entry {
			r.replies = true
			st.phase = 2
		}
	}
	return r.follow(a, st)
}

// recordReply adds a reply to the current branch of every fork being
// walked. The same entry replied on two branches of one fork would be
// answered twice by a single invocation.
func (r *resolver) recordReply(e *Entry, a *Activity) error {
	for _, fr := range r.frames {
		for b, sent := range fr.replies {
			if b == fr.branch {
				continue
			}
			for _, prev := range sent {
				if prev.entry == e {
					return errorf(ErrDuplicateReply, r.task.Name, e.Name, a.Name,
						"also replied by %s on a concurrent branch", prev.by.Name)
				}
			}
		}
		fr.replies[fr.branch] = append(fr.replies[fr.branch], reply{entry: e, by: a})
	}
	return nil
}

// follow continues the traversal through the output list of a. Arrivals at
// an internal AND-join are parked on the fork's frame; the fork walks past
// its join once, after every branch is done.
func (r *resolver) follow(a *Activity, st pathState) error {
	t := r.task
	if a.Output == NoList {
		return nil
	}
	j := t.List(a.Output)
	switch j.Kind {
	case ListJoin, ListOrJoin:
	case ListAndJoin:
		fork, err := r.classify(j, a, st)
		if err != nil {
			return err
		}
		if fork != NoList {
			fr := r.frame(fork)
			fr.arrivals = append(fr.arrivals, st.withoutFork(fork))
			return nil
		}
	case ListFork, ListAndFork, ListOrFork, ListLoop:
		panic(fmt.Sprintf("model: activity %s has fork-side output %s", a.Name, j.Kind))
	}
	if j.Next == NoList {
		return nil
	}
	key := r.stateKey(j.ID, st)
	if r.expanded[key] {
		return nil
	}
	if err := r.enter(t.List(j.Next), st); err != nil {
		return err
	}
	r.expanded[key] = true
	return nil
}

func (r *resolver) frame(fork ListID) *forkFrame {
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].fork == fork {
			return r.frames[i]
		}
	}
	panic(fmt.Sprintf("model: AND-fork list %d joined outside its walk", fork))
}

// stateKey identifies a walk past join list j: two arrivals with the same
// key reach the same activities in the same state.
func (r *resolver) stateKey(j ListID, st pathState) string {
	names := make([]string, len(st.replied))
	for i, e := range st.replied {
		names[i] = e.Name
	}
	sort.Strings(names)
	branches := make([]int, len(r.frames))
	for i, fr := range r.frames {
		branches[i] = fr.branch
	}
	return fmt.Sprintf("%d|%d|%v|%v|%v", j, st.phase, st.forks, names, branches)
}

// enter visits the successors of a fork-side list.
func (r *resolver) enter(f *ActivityList, st pathState) error {
	switch f.Kind {
	case ListFork, ListOrFork:
		for _, id := range f.Activities {
			if err := r.visit(id, st); err != nil {
				return err
			}
		}
	case ListAndFork:
		return r.forkJoin(f, st)
	case ListLoop:
		for _, id := range f.Activities {
			if err := r.visit(id, st); err != nil {
				return err
			}
		}
		if f.LoopEnd != NoActivity {
			return r.visit(f.LoopEnd, st)
		}
	case ListJoin, ListAndJoin, ListOrJoin:
		panic(fmt.Sprintf("model: join-side list %s used as input", f.Kind))
	}
	return nil
}

// forkJoin walks every branch of the AND_FORK f, then continues past its
// join with the merged state of all arrivals.
func (r *resolver) forkJoin(f *ActivityList, st pathState) error {
	t := r.task
	fr := &forkFrame{fork: f.ID, replies: make([][]reply, len(f.Activities))}
	r.frames = append(r.frames, fr)
	inner := st.withFork(f.ID)
	for i, id := range f.Activities {
		fr.branch = i
		if err := r.visit(id, inner); err != nil {
			r.frames = r.frames[:len(r.frames)-1]
			return err
		}
	}
	r.frames = r.frames[:len(r.frames)-1]

	joinID, bound := t.JoinFor(f.ID)
	if !bound || len(fr.arrivals) == 0 {
		return nil
	}
	merged := st
	for _, arr := range fr.arrivals {
		if arr.phase > merged.phase {
			merged.phase = arr.phase
		}
	}
	for _, sent := range fr.replies {
		for _, rp := range sent {
			if !merged.hasReplied(rp.entry) {
				merged = merged.withReply(rp.entry)
			}
			if rp.entry == r.entry && merged.phase < 2 {
				merged.phase = 2
			}
		}
	}
	j := t.List(joinID)
	if j.Next == NoList {
		return nil
	}
	return r.enter(t.List(j.Next), merged)
}

// classify determines whether the AND-join j closes a live AND-fork or
// synchronizes independent flows, binding the join on first sight. It
// returns the bound fork for an internal fork-join, NoList otherwise.
func (r *resolver) classify(j *ActivityList, from *Activity, st pathState) (ListID, error) {
	t := r.task
	sets := make([]map[ListID]bool, len(j.Activities))
	for i, id := range j.Activities {
		sets[i] = r.upstreamForks(id)
	}

	common := NoList
	for k := len(st.forks) - 1; k >= 0 && common == NoList; k-- {
		f := st.forks[k]
		all := true
		for _, s := range sets {
			if !s[f] {
				all = false
				break
			}
		}
		if all {
			common = f
		}
	}
	anyLive := false
	for _, s := range sets {
		for _, f := range st.forks {
			if s[f] {
				anyLive = true
			}
		}
	}

	var kind JoinKind
	switch {
	case common != NoList:
		kind = JoinInternalForkJoin
	case !anyLive:
		kind = JoinSynchronization
	default:
		return NoList, errorf(ErrJoinForkMismatch, t.Name, r.entry.Name, from.Name, "join list %d", j.ID)
	}

	if j.JoinKind != JoinUndefined {
		if j.JoinKind != kind {
			return NoList, errorf(ErrJoinReclassified, t.Name, r.entry.Name, from.Name,
				"join list %d is %s, now %s", j.ID, j.JoinKind, kind)
		}
		if kind == JoinInternalForkJoin {
			if bound := t.forkOf[j.ID]; bound != common {
				return NoList, errorf(ErrJoinReclassified, t.Name, r.entry.Name, from.Name,
					"join list %d closes fork list %d, now %d", j.ID, bound, common)
			}
			return common, nil
		}
		return NoList, nil
	}

	j.JoinKind = kind
	if kind == JoinSynchronization {
		if j.Quorum != 0 {
			return NoList, errorf(ErrQuorum, t.Name, r.entry.Name, from.Name, "quorum on a synchronization join")
		}
		t.SyncServer = true
		return NoList, nil
	}
	if other, bound := t.joinOf[common]; bound && other != j.ID {
		return NoList, errorf(ErrForkJoinBound, t.Name, r.entry.Name, from.Name,
			"fork list %d already closed by join list %d", common, other)
	}
	fork := t.List(common)
	if j.QuorumCount() > len(fork.Activities) {
		return NoList, errorf(ErrQuorum, t.Name, r.entry.Name, from.Name,
			"quorum %d exceeds %d fork branches", j.QuorumCount(), len(fork.Activities))
	}
	t.bind(common, j.ID)
	return common, nil
}

// upstreamForks collects the AND_FORKs found by walking input links back
// from start. Internal fork-join pairs already bound are stepped over as a
// unit.
func (r *resolver) upstreamForks(start ActivityID) map[ListID]bool {
	t := r.task
	found := make(map[ListID]bool)
	seen := make(map[ActivityID]bool)
	stack := []ActivityID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		a := t.Activity(id)
		if a.Input == NoList {
			continue
		}
		f := t.List(a.Input)
		if f.Kind == ListAndFork {
			found[f.ID] = true
		}
		if f.Prev == NoList {
			continue
		}
		j := t.List(f.Prev)
		if j.Kind == ListAndJoin {
			if fork, ok := t.forkOf[j.ID]; ok {
				if prev := t.List(fork).Prev; prev != NoList {
					stack = append(stack, t.List(prev).Activities...)
				}
				continue
			}
		}
		stack = append(stack, j.Activities...)
	}
	return found
}
