package engine

import (
	"fmt"

	"github.com/layeredqueuing/lqsim/sim/kernel"
	"github.com/layeredqueuing/lqsim/sim/model"
)

// message is a request in flight to an entry.
type message struct {
	entry   *model.Entry
	reply   *kernel.Port // nil for send-no-reply requests and open arrivals
	call    *model.Call  // nil for open arrivals
	sent    float64
	pooled  bool // holds a slot of the destination's message pool
	open    bool
	replied bool
}

// taskState is the run-time state shared by the instances of one task.
type taskState struct {
	eng   *Model
	t     *model.Task
	proc  *kernel.Processor
	queue *kernel.Port

	// inUse counts pooled messages not yet disposed of.
	inUse     int
	instances []*Instance
	idle      []*Instance // infinite tasks
}

// full reports whether the message pool has no free slot.
func (ts *taskState) full() bool {
	return ts.t.QueueLength > 0 && ts.inUse >= ts.t.QueueLength
}

func (ts *taskState) start() {
	switch ts.t.Kind {
	case model.TaskReference:
		for i := 0; i < ts.t.Multiplicity; i++ {
			inst := ts.newInstance(ts.queue)
			inst.spawn(inst.runReference)
		}
	case model.TaskServer:
		for i := 0; i < ts.t.Multiplicity; i++ {
			inst := ts.newInstance(ts.queue)
			inst.spawn(inst.runServer)
		}
	case model.TaskInfinite:
		ts.eng.k.Spawn(ts.t.Name+".dispatch", ts.t.Priority, ts.dispatch)
	case model.TaskSemaphore:
		inst := ts.newInstance(ts.queue)
		inst.tokens = ts.t.Multiplicity
		inst.spawn(inst.runSemaphore)
	}
}

func (ts *taskState) newInstance(port *kernel.Port) *Instance {
	inst := &Instance{
		id:       len(ts.instances),
		task:     ts,
		port:     port,
		joinDone: make([]bool, len(ts.t.Activities)),
	}
	ts.instances = append(ts.instances, inst)
	return inst
}

// dispatch hands every message of an infinite task to an idle instance,
// creating one when none is idle.
func (ts *taskState) dispatch(p *kernel.Proc) {
	for {
		msg := p.Receive(ts.queue).(*message)
		var inst *Instance
		if n := len(ts.idle); n > 0 {
			inst = ts.idle[n-1]
			ts.idle = ts.idle[:n-1]
		} else {
			inst = ts.newInstance(ts.eng.k.NewPort(fmt.Sprintf("%s.%d", ts.t.Name, len(ts.instances))))
			inst.spawn(inst.runInfinite)
		}
		inst.port.Send(msg)
	}
}

// deliver queues msg at its destination task.
func (e *Model) deliver(msg *message) {
	e.tasks[msg.entry.Task.ID].queue.Send(msg)
}

// sendAsync issues a send-no-reply request, dropping it when the
// destination's message pool is exhausted. Every attempt is recorded as a
// 0/1 loss sample.
func (e *Model) sendAsync(call *model.Call) bool {
	ts := e.tasks[call.To.Task.ID]
	if ts.full() {
		call.Loss.Record(1)
		if e.pragmas.StrictQueueLength {
			e.runtimeError(&RuntimeError{
				Err: ErrQueueOverflow, Time: e.k.Now(),
				Task: ts.t.Name, Entry: call.To.Name,
			})
		}
		return false
	}
	call.Loss.Record(0)
	ts.inUse++
	e.deliver(&message{entry: call.To, call: call, sent: e.k.Now(), pooled: true})
	return true
}

// startArrivals spawns the Poisson arrival generator of an open entry.
func (e *Model) startArrivals(en *model.Entry) {
	mean := 1 / en.OpenArrivalRate
	e.k.Spawn(en.Name+".arrivals", 0, func(p *kernel.Proc) {
		for {
			p.Sleep(exponential(e.arrivals, mean))
			e.deliver(&message{entry: en, sent: p.Now(), open: true})
		}
	})
}
