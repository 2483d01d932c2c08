package engine

import (
	"fmt"

	"github.com/layeredqueuing/lqsim/sim/kernel"
	"github.com/layeredqueuing/lqsim/sim/model"
)

// runChain executes activities from act onwards until the chain ends. It
// reports true when the flow blocked at a synchronization join.
func (th *thread) runChain(c *cycle, act model.ActivityID, reschedule bool) bool {
	t := th.inst.task.t
	for act != model.NoActivity {
		a := t.Activity(act)
		th.executeActivity(c, a, reschedule)
		next, blocked := th.nextActivity(c, a, reschedule)
		if blocked {
			return true
		}
		act = next
	}
	return false
}

// nextActivity follows the output list of a.
func (th *thread) nextActivity(c *cycle, a *model.Activity, reschedule bool) (model.ActivityID, bool) {
	if a.Output == model.NoList {
		return model.NoActivity, false
	}
	inst := th.inst
	t := inst.task.t
	j := t.List(a.Output)
	if j.Kind != model.ListAndJoin {
		return th.enter(c, j.Next, reschedule)
	}
	if j.JoinKind != model.JoinSynchronization {
		// End of a fork branch; the thread that opened the fork resumes.
		return model.NoActivity, false
	}
	if th.worker {
		th.eng.runtimeError(&RuntimeError{
			Err: ErrSyncInThread, Time: th.proc.Now(),
			Task: t.Name, Entry: c.entry.Name, Activity: a.Name,
		})
		return model.NoActivity, false
	}
	if !inst.syncArrive(c, a, j) {
		return model.NoActivity, true
	}
	return th.enter(c, j.Next, reschedule)
}

// enter picks the next activity from the fork-side list l.
func (th *thread) enter(c *cycle, l model.ListID, reschedule bool) (model.ActivityID, bool) {
	if l == model.NoList {
		return model.NoActivity, false
	}
	f := th.inst.task.t.List(l)
	switch f.Kind {
	case model.ListFork:
		return f.Activities[0], false
	case model.ListOrFork:
		return f.Activities[draw(th.eng.rng, f.Probabilities, 1)], false
	case model.ListLoop:
		return th.loop(c, f, reschedule)
	case model.ListAndFork:
		return th.forkJoin(c, f, reschedule)
	}
	return model.NoActivity, false
}

// loop repeats weighted branches of f until the exit draw succeeds, then
// continues at the loop end.
func (th *thread) loop(c *cycle, f *model.ActivityList, reschedule bool) (model.ActivityID, bool) {
	rng := th.eng.rng
	exit := 1 / (1 + f.LoopTotal)
	for rng.Float64() >= exit {
		body := f.Activities[draw(rng, f.Counts, f.LoopTotal)]
		if th.runChain(c, body, reschedule) {
			return model.NoActivity, true
		}
	}
	return f.LoopEnd, false
}

// branch is the work handed to a fork worker.
type branch struct {
	c          *cycle
	act        model.ActivityID
	token      uint64
	index      int
	done       *kernel.Port
	reschedule bool
}

// completion reports the end of one fork branch.
type completion struct {
	token uint64
	index int
	at    float64
}

// forkJoin runs every branch of the AND-fork f on a worker thread and waits
// for the join's quorum of distinct branches. Completions of earlier forks
// are told apart by token and discarded.
func (th *thread) forkJoin(c *cycle, f *model.ActivityList, reschedule bool) (model.ActivityID, bool) {
	e := th.eng
	t := th.inst.task.t
	var join *model.ActivityList
	quorum := len(f.Activities)
	if jid, ok := t.JoinFor(f.ID); ok {
		join = t.List(jid)
		quorum = join.QuorumCount()
	}

	token := e.nextToken()
	start := th.proc.Now()
	for i, act := range f.Activities {
		w := th.inst.worker()
		w.work.Send(branch{c: c, act: act, token: token, index: i, done: th.done, reschedule: reschedule})
	}

	seen := make([]bool, len(f.Activities))
	accepted := 0
	last := start
	for accepted < quorum {
		done := th.proc.Receive(th.done).(completion)
		if done.token != token || seen[done.index] {
			continue
		}
		seen[done.index] = true
		accepted++
		last = done.at
	}
	for {
		if _, ok := th.done.TryReceive(); !ok {
			break
		}
	}

	if join == nil {
		return model.NoActivity, false
	}
	join.JoinDelay.Record(last - start)
	return th.enter(c, join.Next, reschedule)
}

// worker returns an idle worker thread of the instance, creating one when
// every worker is busy.
func (inst *Instance) worker() *thread {
	if n := len(inst.threads); n > 0 {
		w := inst.threads[n-1]
		inst.threads = inst.threads[:n-1]
		return w
	}
	ts := inst.task
	k := ts.eng.k
	name := fmt.Sprintf("%s.w%d", inst.name(), k.Live())
	w := &thread{
		eng:    ts.eng,
		inst:   inst,
		reply:  k.NewPort(name + ".reply"),
		done:   k.NewPort(name + ".done"),
		work:   k.NewPort(name),
		worker: true,
	}
	w.proc = k.Spawn(name, ts.t.Priority, func(*kernel.Proc) { w.runWorker() })
	return w
}

func (w *thread) runWorker() {
	for {
		b := w.proc.Receive(w.work).(branch)
		w.runChain(b.c, b.act, b.reschedule)
		b.done.Send(completion{token: b.token, index: b.index, at: w.proc.Now()})
		w.inst.threads = append(w.inst.threads, w)
	}
}
