// Package report persists tank run records so that background executions
// can be looked up after they finish.
package report

import (
	"fmt"
	"time"
)

// Kind identifies how a run was started.
type Kind string

const (
	// Sync is a run executed on the caller's goroutine.
	Sync Kind = "sync"
	// Async is a run scheduled in the background.
	Async Kind = "async"
)

// Status is the lifecycle state of a run.
type Status string

const (
	Pending Status = "pending"
	Done    Status = "done"
)

// Store persists and retrieves run records.
type Store interface {
	Save(run *Run) error
	Load(runID string) (*Run, error)
}

// Run records one tank invocation and, once done, its outcome.
type Run struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Status     Status    `json:"status"`
	ConfigPath string    `json:"config_path"`
	Command    string    `json:"command"`
	Args       []string  `json:"args,omitempty"`
	ExitCode   int       `json:"retcode"`
	Out        string    `json:"out"`
	Err        string    `json:"err"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Expect returns an error if the run's Status does not match want.
func (r *Run) Expect(want Status) error {
	if r.Status != want {
		return fmt.Errorf("run %s is %s, not %s", r.ID, r.Status, want)
	}
	return nil
}

// Finish returns a copy of r marked done with the given outcome.
func (r *Run) Finish(retcode int, out, errText string, at time.Time) *Run {
	done := *r
	done.Status = Done
	done.ExitCode = retcode
	done.Out = out
	done.Err = errText
	done.FinishedAt = at
	return &done
}

// Duration returns how long a finished run took, or zero while pending.
func (r *Run) Duration() time.Duration {
	if r.Status != Done || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
