package model

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors. Every error returned by Build wraps one of these in
// a *ModelError, so callers can test with errors.Is.
var (
	ErrActivityCycle         = errors.New("activity cycle")
	ErrOrBranchProbabilities = errors.New("OR-fork branch probabilities do not sum to 1")
	ErrJoinForkMismatch      = errors.New("AND-join branches do not share a common AND-fork")
	ErrJoinReclassified      = errors.New("AND-join classified inconsistently")
	ErrForkJoinBound         = errors.New("AND-fork already bound to another AND-join")
	ErrListReassigned        = errors.New("activity list already assigned")
	ErrDuplicateReply        = errors.New("entry replied to more than once")
	ErrReplyOtherTask        = errors.New("reply to an entry of another task")
	ErrMixedReceive          = errors.New("entry called by both rendezvous and send-no-reply")
	ErrOpenClosed            = errors.New("entry used by both open and closed classes")
	ErrReferenceCalled       = errors.New("reference task entry is called")
	ErrReferenceEntries      = errors.New("reference task must have exactly one entry")
	ErrUnknownName           = errors.New("unknown name")
	ErrDuplicateName         = errors.New("duplicate name")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrQuorum                = errors.New("invalid quorum count")
	ErrSyncMultiplicity      = errors.New("synchronization server must have multiplicity 1")
	ErrTooManyPhases         = errors.New("too many phases")
	ErrEntryDefinition       = errors.New("entry must define phases or a start activity, not both")
	ErrBadPrecedence         = errors.New("malformed precedence")
)

// ModelError is a configuration error with the location it was found at.
type ModelError struct {
	Err      error
	Task     string
	Entry    string
	Activity string
	Path     []string // activity path, for cycles
	Detail   string
}

func (e *ModelError) Error() string {
	var loc []string
	if e.Task != "" {
		loc = append(loc, "task "+e.Task)
	}
	if e.Entry != "" {
		loc = append(loc, "entry "+e.Entry)
	}
	if e.Activity != "" {
		loc = append(loc, "activity "+e.Activity)
	}
	var sb strings.Builder
	if len(loc) > 0 {
		sb.WriteString(strings.Join(loc, ", "))
		sb.WriteString(": ")
	}
	sb.WriteString(e.Err.Error())
	if len(e.Path) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Path, " -> "))
	}
	if e.Detail != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Detail)
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *ModelError) Unwrap() error { return e.Err }

// errorf builds a ModelError with a formatted detail.
func errorf(err error, task, entry, activity, format string, args ...any) *ModelError {
	return &ModelError{Err: err, Task: task, Entry: entry, Activity: activity, Detail: fmt.Sprintf(format, args...)}
}
