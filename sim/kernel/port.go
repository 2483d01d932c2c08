package kernel

// Port is a rendezvous point carrying values between processes. Values are
// delivered FIFO unless the port has an ordering function, in which case a
// value is queued behind every value that does not sort after it.
type Port struct {
	k       *Kernel
	name    string
	items   []any
	waiters []*Proc
	less    func(a, b any) bool
}

// NewPort allocates a FIFO port.
func (k *Kernel) NewPort(name string) *Port {
	return &Port{k: k, name: name}
}

// NewOrderedPort allocates a port whose queued values are kept sorted by
// less; equal values stay FIFO.
func (k *Kernel) NewOrderedPort(name string, less func(a, b any) bool) *Port {
	return &Port{k: k, name: name, less: less}
}

// Name returns the port name.
func (pt *Port) Name() string { return pt.name }

// Len returns the number of queued values.
func (pt *Port) Len() int { return len(pt.items) }

// Waiting returns the number of processes blocked in Receive.
func (pt *Port) Waiting() int { return len(pt.waiters) }

// Send delivers v without blocking. A blocked receiver is made ready at the
// current instant; otherwise v is queued.
func (pt *Port) Send(v any) {
	if len(pt.waiters) > 0 {
		w := pt.waiters[0]
		pt.waiters = pt.waiters[1:]
		w.inbox, w.hasInbox = v, true
		pt.k.ready(w, pt.k.now)
		return
	}
	if pt.less == nil {
		pt.items = append(pt.items, v)
		return
	}
	i := len(pt.items)
	for i > 0 && pt.less(v, pt.items[i-1]) {
		i--
	}
	pt.items = append(pt.items, nil)
	copy(pt.items[i+1:], pt.items[i:])
	pt.items[i] = v
}

// TryReceive removes and returns the head of the queue without blocking.
func (pt *Port) TryReceive() (any, bool) {
	if len(pt.items) == 0 {
		return nil, false
	}
	v := pt.items[0]
	pt.items[0] = nil
	pt.items = pt.items[1:]
	return v, true
}

// Receive blocks the process until a value is available on pt.
func (p *Proc) Receive(pt *Port) any {
	if v, ok := pt.TryReceive(); ok {
		return v
	}
	pt.waiters = append(pt.waiters, p)
	p.park()
	if !p.hasInbox {
		panic("kernel: " + p.name + " resumed without a value on " + pt.name)
	}
	v := p.inbox
	p.inbox, p.hasInbox = nil, false
	return v
}
