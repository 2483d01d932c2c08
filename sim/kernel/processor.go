package kernel

import "fmt"

// Discipline is a processor scheduling discipline.
type Discipline int

const (
	// FCFS serves processes in arrival order.
	FCFS Discipline = iota
	// Priority serves the highest priority waiter first (head of line,
	// non-preemptive); equal priorities are FCFS.
	Priority
	// Infinite never queues: every process gets its own server.
	Infinite
	// RoundRobin serves at most one quantum at a time, then requeues.
	RoundRobin
)

func (d Discipline) String() string {
	switch d {
	case FCFS:
		return "fcfs"
	case Priority:
		return "pri"
	case Infinite:
		return "inf"
	case RoundRobin:
		return "rr"
	default:
		return fmt.Sprintf("Discipline(%d)", int(d))
	}
}

// Processor is a multi-server resource that processes consume service
// demand on.
type Processor struct {
	k       *Kernel
	name    string
	servers int
	disc    Discipline
	quantum float64
	busy    int
	waiters []*Proc

	// Observe, when set, is called whenever the number of busy servers
	// changes.
	Observe func(now float64, busy int)
}

// NewProcessor creates a processor with the given number of servers.
// Panics if servers < 1 for a queueing discipline, or if a round-robin
// processor has no positive quantum.
func (k *Kernel) NewProcessor(name string, servers int, disc Discipline, quantum float64) *Processor {
	if disc != Infinite && servers < 1 {
		panic(fmt.Sprintf("kernel: processor %s needs at least one server", name))
	}
	if disc == RoundRobin && quantum <= 0 {
		panic(fmt.Sprintf("kernel: round-robin processor %s needs a positive quantum", name))
	}
	return &Processor{k: k, name: name, servers: servers, disc: disc, quantum: quantum}
}

// Name returns the processor name.
func (c *Processor) Name() string { return c.name }

// Busy returns the number of busy servers.
func (c *Processor) Busy() int { return c.busy }

// Queued returns the number of processes waiting for a server.
func (c *Processor) Queued() int { return len(c.waiters) }

// Compute consumes demand units of service on c for process p and returns
// the time p spent queued for a server.
func (c *Processor) Compute(p *Proc, demand float64) float64 {
	if demand <= 0 {
		return 0
	}
	if c.disc == Infinite {
		c.set(c.busy + 1)
		p.Sleep(demand)
		c.set(c.busy - 1)
		return 0
	}
	var waited float64
	remaining := demand
	for remaining > 0 {
		t0 := c.k.now
		c.acquire(p)
		waited += c.k.now - t0
		slice := remaining
		if c.disc == RoundRobin && slice > c.quantum {
			slice = c.quantum
		}
		p.Sleep(slice)
		remaining -= slice
		c.release()
	}
	return waited
}

func (c *Processor) acquire(p *Proc) {
	if c.busy < c.servers {
		c.set(c.busy + 1)
		return
	}
	i := len(c.waiters)
	if c.disc == Priority {
		for i > 0 && c.waiters[i-1].priority < p.priority {
			i--
		}
	}
	c.waiters = append(c.waiters, nil)
	copy(c.waiters[i+1:], c.waiters[i:])
	c.waiters[i] = p
	p.park()
}

// release hands the server to the next waiter, if any.
func (c *Processor) release() {
	if len(c.waiters) > 0 {
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		c.k.ready(w, c.k.now)
		return
	}
	c.set(c.busy - 1)
}

func (c *Processor) set(busy int) {
	c.busy = busy
	if c.Observe != nil {
		c.Observe(c.k.now, busy)
	}
}
