package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Runtime model errors. They are counted rather than returned; a run aborts
// with ErrErrorThreshold once the count exceeds Pragmas.ErrorThreshold.
var (
	ErrErrorThreshold    = errors.New("runtime error threshold exceeded")
	ErrMissingReply      = errors.New("reply not generated")
	ErrDuplicateReply    = errors.New("reply generated more than once")
	ErrNoPendingRequest  = errors.New("reply to an entry with no pending request")
	ErrSignalWithoutWait = errors.New("semaphore signal with no pending wait")
	ErrQueueOverflow     = errors.New("message pool exhausted")
	ErrSyncInThread      = errors.New("synchronization join reached from a fork branch")
)

// RuntimeError is a model error detected while simulating.
type RuntimeError struct {
	Err      error
	Time     float64
	Task     string
	Entry    string
	Activity string
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "t=%.4f", e.Time)
	if e.Task != "" {
		sb.WriteString(" task " + e.Task)
	}
	if e.Entry != "" {
		sb.WriteString(" entry " + e.Entry)
	}
	if e.Activity != "" {
		sb.WriteString(" activity " + e.Activity)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *RuntimeError) Unwrap() error { return e.Err }
