package engine

import (
	"fmt"

	"github.com/layeredqueuing/lqsim/sim/model"
	"github.com/layeredqueuing/lqsim/sim/sink"
)

// Result names published to the sink.
const (
	prefixProcessor = "processor/"
	prefixTask      = "task/"
	prefixEntry     = "entry/"
	prefixActivity  = "activity/"
	prefixCall      = "call/"
	prefixJoin      = "join/"
)

// publish hands the accumulated results to the sink.
func (e *Model) publish() {
	s := e.sink
	period := e.pragmas.BlockPeriod

	for _, p := range e.model.Processors {
		s.SetUtilization(prefixProcessor+p.Name, sink.Of(p.Utilization))
	}
	for _, t := range e.model.Tasks {
		s.SetUtilization(prefixTask+t.Name, sink.Of(t.Utilization))

		for _, en := range t.Entries {
			name := prefixEntry + en.Name
			s.SetThroughput(name, sink.ThroughputOf(en.CycleTime, period))
			s.SetWaiting(name, sink.Of(en.CycleTime))
			s.SetSquaredCoeffVariation(name, en.CycleTime.SquaredCV())
			for ph := 1; ph <= t.MaxPhases; ph++ {
				s.SetPhaseServiceTime(name, ph, sink.Of(en.PhaseService[ph-1]))
			}
			if en.Histogram != nil {
				s.SetHistogram(name, en.Histogram)
			}
			if en.IsOpen() {
				s.SetWaiting(name+"/open", sink.Of(en.OpenWait))
			}
		}

		for _, a := range t.Activities {
			if !a.IsPhase {
				name := prefixActivity + t.Name + "." + a.Name
				s.SetUtilization(name, sink.Of(a.Utilization))
				s.SetWaiting(name, sink.Of(a.CycleTime))
				if a.Phase > 0 {
					s.SetPhaseServiceTime(name, a.Phase, sink.Of(a.Service))
				}
			}
			for _, c := range a.Calls {
				name := prefixCall + t.Name + "." + a.Name + "->" + c.To.Name
				switch c.Kind {
				case model.CallRendezvous:
					s.SetWaiting(name, sink.Of(c.Delay))
					s.SetThroughput(name, sink.ThroughputOf(c.Delay, period))
				case model.CallSend:
					s.SetLossProbability(name, sink.Of(c.Loss))
				}
			}
		}

		for _, l := range t.Lists {
			if l.JoinDelay != nil {
				s.SetJoinDelay(fmt.Sprintf("%s%s.%d", prefixJoin, t.Name, l.ID), sink.Of(l.JoinDelay))
			}
		}
	}
}

// advisories lists the results whose statistics overflowed.
func (e *Model) advisories() []string {
	var out []string
	for _, r := range e.model.Results() {
		if !r.Finite() {
			out = append(out, fmt.Sprintf("result %s is not finite (mean %g)", r.Name, r.Mean()))
		}
	}
	return out
}
