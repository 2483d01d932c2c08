// Package kernel provides the virtual-time kernel the simulator runs on.
//
// Simulated processes are written as ordinary sequential Go functions that
// block on kernel primitives (Sleep, Receive, Compute). Each process runs on
// its own goroutine, but the kernel hands a single baton between its event
// loop and at most one process at a time, so exactly one logical task
// executes at any simulated instant and process code needs no locking.
package kernel

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// shutdown is the panic value used to unwind parked processes.
type shutdown struct{}

// Kernel is a virtual-time scheduler for cooperative processes.
//
// Thread-safety: NOT thread-safe. Methods must be called from the goroutine
// that drives RunUntil, or from inside a running process.
type Kernel struct {
	now     float64
	queue   eventHeap
	seq     uint64
	nextID  int
	yield   chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	failure any
	stopped bool
	closed  bool
	live    int
}

// New creates an idle kernel at time zero.
func New() *Kernel {
	return &Kernel{
		yield: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Now returns the current virtual time.
func (k *Kernel) Now() float64 { return k.now }

// Live returns the number of processes that have not returned.
func (k *Kernel) Live() int { return k.live }

// Pending returns the number of scheduled events.
func (k *Kernel) Pending() int { return k.queue.Len() }

// Spawn creates a process bound to fn and makes it ready at the current
// time. Higher priority values are served first by priority processors.
func (k *Kernel) Spawn(name string, priority int, fn func(p *Proc)) *Proc {
	if k.closed {
		panic("kernel: Spawn after Shutdown")
	}
	p := &Proc{
		k:        k,
		id:       k.nextID,
		name:     name,
		priority: priority,
		wake:     make(chan struct{}),
	}
	k.nextID++
	k.live++
	k.wg.Add(1)
	go p.main(fn)
	k.ready(p, k.now)
	return p
}

// At runs fn on the kernel goroutine at virtual time t. fn must not block.
func (k *Kernel) At(t float64, fn func()) {
	if t < k.now {
		t = k.now
	}
	k.seq++
	k.queue.schedule(&event{at: t, seq: k.seq, fn: fn})
}

func (k *Kernel) ready(p *Proc, t float64) {
	if p.pending {
		panic(fmt.Sprintf("kernel: process %s scheduled twice", p.name))
	}
	p.pending = true
	k.seq++
	k.queue.schedule(&event{at: t, seq: k.seq, proc: p})
}

// Stop makes the current RunUntil return after the running event.
func (k *Kernel) Stop() { k.stopped = true }

// Stopped reports whether Stop was called.
func (k *Kernel) Stopped() bool { return k.stopped }

// RunUntil executes every event scheduled at or before t and then advances
// the clock to t. It returns early when Stop is called.
func (k *Kernel) RunUntil(t float64) {
	for !k.stopped {
		ev := k.queue.peek()
		if ev == nil || ev.at > t {
			break
		}
		k.step()
	}
	if !k.stopped && t > k.now {
		k.now = t
	}
}

// Run executes events until none remain or Stop is called.
func (k *Kernel) Run() {
	for !k.stopped && k.queue.Len() > 0 {
		k.step()
	}
}

func (k *Kernel) step() {
	ev := k.queue.popNext()
	k.now = ev.at
	if ev.fn != nil {
		ev.fn()
		return
	}
	p := ev.proc
	p.pending = false
	logrus.Tracef("[t=%.4f] resume %s", k.now, p.name)
	p.wake <- struct{}{}
	<-k.yield
	if k.failure != nil {
		f := k.failure
		k.failure = nil
		panic(fmt.Sprintf("kernel: process %s panicked: %v", p.name, f))
	}
}

// Shutdown unwinds every parked process and waits for their goroutines to
// exit. The kernel cannot be used afterwards.
func (k *Kernel) Shutdown() {
	if k.closed {
		return
	}
	k.closed = true
	close(k.done)
	k.wg.Wait()
}

// Proc is a simulated process.
type Proc struct {
	k        *Kernel
	id       int
	name     string
	priority int
	wake     chan struct{}
	pending  bool
	inbox    any
	hasInbox bool
}

// ID returns the process ordinal, unique within its kernel.
func (p *Proc) ID() int { return p.id }

// Name returns the process name.
func (p *Proc) Name() string { return p.name }

// Priority returns the scheduling priority.
func (p *Proc) Priority() int { return p.priority }

// Kernel returns the kernel the process runs on.
func (p *Proc) Kernel() *Kernel { return p.k }

// Now returns the current virtual time.
func (p *Proc) Now() float64 { return p.k.now }

func (p *Proc) main(fn func(*Proc)) {
	defer p.k.wg.Done()
	defer func() {
		r := recover()
		if _, killed := r.(shutdown); killed {
			return
		}
		p.k.live--
		if r != nil {
			p.k.failure = r
		}
		p.k.yield <- struct{}{}
	}()
	p.wait()
	fn(p)
}

func (p *Proc) wait() {
	select {
	case <-p.wake:
	case <-p.k.done:
		panic(shutdown{})
	}
}

// park hands the baton back to the kernel and waits to be resumed.
func (p *Proc) park() {
	p.k.yield <- struct{}{}
	p.wait()
}

// Sleep suspends the process for d units of virtual time. A non-positive
// duration behaves like Yield.
func (p *Proc) Sleep(d float64) {
	if d < 0 {
		d = 0
	}
	p.k.ready(p, p.k.now+d)
	p.park()
}

// Yield lets every other process that is ready at the current instant run
// before this one continues.
func (p *Proc) Yield() {
	p.Sleep(0)
}
