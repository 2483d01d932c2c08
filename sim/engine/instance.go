package engine

import (
	"fmt"

	"github.com/layeredqueuing/lqsim/sim/kernel"
	"github.com/layeredqueuing/lqsim/sim/model"
)

// Instance is one live replica of a task.
//
// Its state is touched only by its own threads, and the kernel runs one
// thread at a time, so no locking is needed.
type Instance struct {
	id   int
	task *taskState
	port *kernel.Port
	main *thread

	// joinDone marks, by activity ordinal, the branches that reached a
	// synchronization join.
	joinDone []bool
	// blocked holds the cycles waiting at a synchronization join.
	blocked []*cycle
	// held are messages that arrived for a blocked entry, in arrival order.
	held []*message
	// backlog is served before the port.
	backlog []*message

	threads []*thread // idle fork-branch workers
	tokens  int       // semaphore tasks
	waiting []*message
}

// cycle is the service of one request (or one customer cycle of a
// reference task) by an instance.
type cycle struct {
	entry      *model.Entry
	msg        *message
	start      float64
	phase      int
	phaseStart float64

	blockedAt model.ListID
	joined    []*cycle // cycles released by this cycle's synchronization join
}

// endPhase records the service time of the current phase and starts the
// next one.
func (c *cycle) endPhase(now float64) {
	if c.phase <= model.MaxPhases {
		c.entry.PhaseService[c.phase-1].Record(now - c.phaseStart)
	}
	c.phase++
	c.phaseStart = now
}

func (inst *Instance) name() string {
	return fmt.Sprintf("%s.%d", inst.task.t.Name, inst.id)
}

func (inst *Instance) spawn(run func()) {
	ts := inst.task
	inst.main = &thread{
		eng:   ts.eng,
		inst:  inst,
		reply: ts.eng.k.NewPort(inst.name() + ".reply"),
		done:  ts.eng.k.NewPort(inst.name() + ".done"),
	}
	inst.main.proc = ts.eng.k.Spawn(inst.name(), ts.t.Priority, func(*kernel.Proc) { run() })
}

// next returns the next message to serve, backlog first.
func (inst *Instance) next() *message {
	if len(inst.backlog) > 0 {
		msg := inst.backlog[0]
		inst.backlog = inst.backlog[1:]
		return msg
	}
	return inst.main.proc.Receive(inst.port).(*message)
}

func (inst *Instance) runServer() {
	for {
		inst.accept(inst.next())
	}
}

func (inst *Instance) runInfinite() {
	ts := inst.task
	for {
		inst.accept(inst.next())
		ts.idle = append(ts.idle, inst)
	}
}

func (inst *Instance) runReference() {
	t := inst.task.t
	entry := t.Entries[0]
	for {
		if t.ThinkTime > 0 {
			inst.main.proc.Sleep(exponential(inst.task.eng.rng, t.ThinkTime))
		}
		inst.serverCycle(entry, nil, false)
	}
}

// accept serves msg, or holds it while its entry is blocked at a
// synchronization join.
func (inst *Instance) accept(msg *message) {
	for _, c := range inst.blocked {
		if c.entry == msg.entry {
			inst.held = append(inst.held, msg)
			return
		}
	}
	inst.serverCycle(msg.entry, msg, true)
}

// serverCycle serves one request on entry. Activity entries interpret
// their graph; regular entries run their phases and reply after phase 1.
func (inst *Instance) serverCycle(entry *model.Entry, msg *message, reschedule bool) {
	ts := inst.task
	th := inst.main
	now := th.proc.Now()
	c := &cycle{entry: entry, msg: msg, start: now, phase: 1, phaseStart: now, blockedAt: model.NoList}
	ts.t.Utilization.Add(now, 1)

	switch entry.Kind {
	case model.EntryActivity:
		if th.runChain(c, entry.Start, reschedule) {
			inst.blocked = append(inst.blocked, c)
			return
		}
	case model.EntryRegular:
		for i, id := range entry.Phases {
			act := ts.t.Activity(id)
			th.executeActivity(c, act, reschedule)
			c.endPhase(th.proc.Now())
			if i == 0 {
				th.sendReplies([]*cycle{c}, act, reschedule)
			}
		}
	}
	inst.finish(c)
}

// finish closes c and every cycle its synchronization join released, then
// redelivers the messages held for the released entries.
func (inst *Instance) finish(c *cycle) {
	now := inst.main.proc.Now()
	if c.entry.Kind == model.EntryActivity {
		c.endPhase(now)
	}
	c.entry.CycleTime.Record(now - c.start)
	if h := c.entry.Histogram; h != nil {
		h.Record(now - c.start)
	}
	inst.task.t.Utilization.Add(now, -1)
	inst.dispose(c)

	if len(c.joined) == 0 {
		return
	}
	released := make(map[*model.Entry]bool, len(c.joined))
	for _, jc := range c.joined {
		released[jc.entry] = true
		inst.finish(jc)
	}
	var redeliver, keep []*message
	for _, msg := range inst.held {
		if released[msg.entry] {
			redeliver = append(redeliver, msg)
		} else {
			keep = append(keep, msg)
		}
	}
	inst.held = keep
	inst.backlog = append(redeliver, inst.backlog...)
}

// dispose releases the request of a finished cycle: a missing reply is a
// runtime error and the caller is released anyway; pooled messages return
// their slot.
func (inst *Instance) dispose(c *cycle) {
	msg := c.msg
	if msg == nil {
		return
	}
	e := inst.task.eng
	if msg.reply != nil && !msg.replied {
		e.runtimeError(&RuntimeError{
			Err: ErrMissingReply, Time: e.k.Now(),
			Task: inst.task.t.Name, Entry: c.entry.Name,
		})
		msg.replied = true
		msg.reply.Send(struct{}{})
	}
	if msg.pooled {
		inst.task.inUse--
	}
	if msg.open {
		c.entry.OpenWait.Record(e.k.Now() - msg.sent)
	}
}

// cycleFor finds the open cycle of entry from the point of view of c.
func (inst *Instance) cycleFor(c *cycle, entry *model.Entry) *cycle {
	if c.entry == entry {
		return c
	}
	for _, jc := range c.joined {
		if jc.entry == entry {
			return jc
		}
	}
	for _, bc := range inst.blocked {
		if bc.entry == entry {
			return bc
		}
	}
	return nil
}

// syncArrive marks the branch ending in act as done at the synchronization
// join j. It reports whether every branch is now done, in which case the
// cycles blocked at j are attached to c and the join is reset.
func (inst *Instance) syncArrive(c *cycle, act *model.Activity, j *model.ActivityList) bool {
	t := inst.task.t
	now := inst.main.proc.Now()
	first, all := true, true
	for _, id := range j.Activities {
		if id == act.ID {
			continue
		}
		if inst.joinDone[id] {
			first = false
		} else {
			all = false
		}
	}
	if !all {
		if first {
			t.JoinStart = now
		}
		inst.joinDone[act.ID] = true
		c.blockedAt = j.ID
		return false
	}

	for _, id := range j.Activities {
		inst.joinDone[id] = false
	}
	j.JoinDelay.Record(now - t.JoinStart)
	keep := inst.blocked[:0]
	for _, bc := range inst.blocked {
		if bc.blockedAt == j.ID {
			bc.blockedAt = model.NoList
			c.joined = append(c.joined, bc)
		} else {
			keep = append(keep, bc)
		}
	}
	inst.blocked = keep
	return true
}

// runSemaphore serves a semaphore task: a wait takes a token or queues, a
// signal returns the token to the first queued wait or to the pool.
func (inst *Instance) runSemaphore() {
	ts := inst.task
	e := ts.eng
	for {
		msg := inst.next()
		switch msg.entry.Semaphore {
		case model.SemaphoreWait:
			if inst.tokens > 0 {
				inst.tokens--
				inst.serverCycle(msg.entry, msg, false)
			} else {
				inst.waiting = append(inst.waiting, msg)
			}
		case model.SemaphoreSignal:
			if inst.tokens >= ts.t.Multiplicity {
				e.runtimeError(&RuntimeError{
					Err: ErrSignalWithoutWait, Time: e.k.Now(),
					Task: ts.t.Name, Entry: msg.entry.Name,
				})
				inst.serverCycle(msg.entry, msg, false)
				continue
			}
			inst.serverCycle(msg.entry, msg, false)
			if len(inst.waiting) > 0 {
				w := inst.waiting[0]
				inst.waiting = inst.waiting[1:]
				inst.serverCycle(w.entry, w, false)
			} else {
				inst.tokens++
			}
		default:
			inst.serverCycle(msg.entry, msg, false)
		}
	}
}
