package model

import "fmt"

// TaskKind selects how a task's instances obtain work.
type TaskKind int

const (
	// TaskServer instances serve messages from the task's queue.
	TaskServer TaskKind = iota
	// TaskReference instances are closed-class customers that cycle forever.
	TaskReference
	// TaskInfinite serves every message immediately on its own instance.
	TaskInfinite
	// TaskSemaphore grants and releases tokens through wait/signal entries.
	TaskSemaphore
)

var taskKindNames = map[string]TaskKind{
	"": TaskServer, "server": TaskServer, "reference": TaskReference,
	"infinite": TaskInfinite, "semaphore": TaskSemaphore,
}

func (k TaskKind) String() string {
	switch k {
	case TaskServer:
		return "server"
	case TaskReference:
		return "reference"
	case TaskInfinite:
		return "infinite"
	case TaskSemaphore:
		return "semaphore"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// EntryKind distinguishes phase-based entries from activity-graph entries.
type EntryKind int

const (
	EntryRegular EntryKind = iota
	EntryActivity
)

// ReceiveKind is how an entry is called. It is fixed by the first caller.
type ReceiveKind int

const (
	ReceiveNone ReceiveKind = iota
	ReceiveRendezvous
	ReceiveSendNoReply
)

func (k ReceiveKind) String() string {
	switch k {
	case ReceiveNone:
		return "none"
	case ReceiveRendezvous:
		return "rendezvous"
	case ReceiveSendNoReply:
		return "send-no-reply"
	default:
		return fmt.Sprintf("ReceiveKind(%d)", int(k))
	}
}

// SemaphoreRole marks the entries of a semaphore task.
type SemaphoreRole int

const (
	SemaphoreNone SemaphoreRole = iota
	SemaphoreSignal
	SemaphoreWait
)

var semaphoreNames = map[string]SemaphoreRole{"": SemaphoreNone, "signal": SemaphoreSignal, "wait": SemaphoreWait}

// CallKind is the kind of request a call issues.
type CallKind int

const (
	CallRendezvous CallKind = iota
	CallSend
	CallForward
)

var callKindNames = map[string]CallKind{
	"": CallRendezvous, "rendezvous": CallRendezvous, "send": CallSend, "forward": CallForward,
}

func (k CallKind) String() string {
	switch k {
	case CallRendezvous:
		return "rendezvous"
	case CallSend:
		return "send"
	case CallForward:
		return "forward"
	default:
		return fmt.Sprintf("CallKind(%d)", int(k))
	}
}

// ListKind is the variant of an ActivityList. The set is closed: code that
// switches over it handles every value.
type ListKind int

const (
	ListFork ListKind = iota
	ListAndFork
	ListOrFork
	ListLoop
	ListJoin
	ListAndJoin
	ListOrJoin
)

func (k ListKind) String() string {
	switch k {
	case ListFork:
		return "FORK"
	case ListAndFork:
		return "AND_FORK"
	case ListOrFork:
		return "OR_FORK"
	case ListLoop:
		return "LOOP"
	case ListJoin:
		return "JOIN"
	case ListAndJoin:
		return "AND_JOIN"
	case ListOrJoin:
		return "OR_JOIN"
	default:
		return fmt.Sprintf("ListKind(%d)", int(k))
	}
}

// IsForkSide reports whether lists of this kind are activity inputs.
func (k ListKind) IsForkSide() bool {
	switch k {
	case ListFork, ListAndFork, ListOrFork, ListLoop:
		return true
	default:
		return false
	}
}

// JoinKind classifies an AND-join during resolution.
type JoinKind int

const (
	JoinUndefined JoinKind = iota
	// JoinInternalForkJoin joins the branches of one AND-fork.
	JoinInternalForkJoin
	// JoinSynchronization joins flows started by different entries.
	JoinSynchronization
)

func (k JoinKind) String() string {
	switch k {
	case JoinUndefined:
		return "undefined"
	case JoinInternalForkJoin:
		return "internal-fork-join"
	case JoinSynchronization:
		return "synchronization"
	default:
		return fmt.Sprintf("JoinKind(%d)", int(k))
	}
}

// Scheduling is a processor discipline name.
type Scheduling string

const (
	SchedFCFS       Scheduling = "fcfs"
	SchedPriority   Scheduling = "pri"
	SchedInfinite   Scheduling = "inf"
	SchedRoundRobin Scheduling = "rr"
)

var validScheduling = map[Scheduling]bool{
	"": true, SchedFCFS: true, SchedPriority: true, SchedInfinite: true, SchedRoundRobin: true,
}
