package engine

import (
	"github.com/layeredqueuing/lqsim/sim/kernel"
	"github.com/layeredqueuing/lqsim/sim/model"
)

// thread is a flow of control inside an instance: the main thread, or a
// worker running one branch of an AND-fork.
type thread struct {
	eng  *Model
	inst *Instance
	proc *kernel.Proc

	reply *kernel.Port // rendezvous replies
	done  *kernel.Port // branch completions of forks this thread opened
	work  *kernel.Port // workers only

	worker bool
}

// executeActivity runs one activity: optional think time, then the service
// demand on the task's processor interleaved with the activity's calls.
// Replies named by the activity are sent once the work is done.
func (th *thread) executeActivity(c *cycle, act *model.Activity, reschedule bool) {
	e := th.eng
	ts := th.inst.task
	start := th.proc.Now()
	act.Utilization.Add(start, 1)

	if act.ThinkTime > 0 {
		th.proc.Sleep(exponential(e.rng, act.ThinkTime))
	}
	serviceStart := th.proc.Now()

	demand := 0.0
	if d := act.Distribution(); d != nil {
		demand = d.Sample(e.rng)
	}

	var calls []*model.Call
	for _, call := range act.Calls {
		if call.Kind == model.CallForward {
			continue
		}
		for n := callCount(e.rng, call.Mean, act.Deterministic); n > 0; n-- {
			calls = append(calls, call)
		}
	}
	e.rng.Shuffle(len(calls), func(i, j int) { calls[i], calls[j] = calls[j], calls[i] })

	// The demand is split into len(calls)+1 equal slices with a call
	// between each pair.
	slice := demand / float64(len(calls)+1)
	var waited float64
	waited += ts.proc.Compute(th.proc, slice)
	for _, call := range calls {
		th.issue(call, reschedule)
		waited += ts.proc.Compute(th.proc, slice)
	}

	now := th.proc.Now()
	act.ProcessorDelay.Record(waited)
	act.Service.Record(now - serviceStart)
	act.Utilization.Add(now, -1)

	if !act.IsPhase && len(act.Replies) > 0 {
		var replyTo []*cycle
		for _, en := range act.Replies {
			if rc := th.inst.cycleFor(c, en); rc != nil {
				replyTo = append(replyTo, rc)
			} else {
				e.runtimeError(&RuntimeError{
					Err: ErrNoPendingRequest, Time: now,
					Task: ts.t.Name, Entry: en.Name, Activity: act.Name,
				})
			}
		}
		th.sendReplies(replyTo, act, reschedule)
	}
	act.CycleTime.Record(th.proc.Now() - start)
}

// issue makes one call. A rendezvous blocks the thread until the reply
// arrives and records the round-trip delay.
func (th *thread) issue(call *model.Call, reschedule bool) {
	e := th.eng
	switch call.Kind {
	case model.CallRendezvous:
		sent := th.proc.Now()
		e.deliver(&message{entry: call.To, reply: th.reply, call: call, sent: sent})
		th.proc.Receive(th.reply)
		call.Delay.Record(th.proc.Now() - sent)
	case model.CallSend:
		e.sendAsync(call)
		if e.pragmas.RescheduleOnAsyncSend && reschedule && e.rng.Float64() < 0.5 {
			th.proc.Yield()
		}
	}
}

// sendReplies replies to every cycle in cs, in random order. A request is
// forwarded instead when act forwards and the draw selects a target.
func (th *thread) sendReplies(cs []*cycle, act *model.Activity, reschedule bool) {
	e := th.eng
	now := th.proc.Now()
	e.rng.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
	forwards := act.Forwards()

	for _, c := range cs {
		if c.entry.Kind == model.EntryActivity && c.phase == 1 {
			c.endPhase(now)
		}
		msg := c.msg
		if msg == nil || msg.reply == nil {
			continue
		}
		if msg.replied {
			e.runtimeError(&RuntimeError{
				Err: ErrDuplicateReply, Time: now,
				Task: th.inst.task.t.Name, Entry: c.entry.Name, Activity: act.Name,
			})
			continue
		}
		msg.replied = true
		if fwd := pickForward(e, forwards); fwd != nil {
			e.deliver(&message{entry: fwd.To, reply: msg.reply, call: msg.call, sent: msg.sent})
			continue
		}
		msg.reply.Send(struct{}{})
	}
	if reschedule && len(cs) > 0 && e.rng.Float64() < 0.5 {
		th.proc.Yield()
	}
}

// pickForward draws a forwarding target by the forward probabilities, or
// nil for a plain reply.
func pickForward(e *Model, forwards []*model.Call) *model.Call {
	if len(forwards) == 0 {
		return nil
	}
	u := e.rng.Float64()
	var cum float64
	for _, f := range forwards {
		cum += f.Mean
		if u < cum {
			return f
		}
	}
	return nil
}
