// Package queue defines the delayed job queue abstraction the burst
// aggregator and pipeline use to schedule and retry work. Enqueue with a
// job_id that already names a waiting or delayed job replaces it (and
// restarts its delay); a job_id that names an active (currently-running)
// job is left alone, so callers that need a guaranteed-separate job
// derive their own id for that case.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrShuttingDown is returned by Enqueue once a queue has begun draining.
var ErrShuttingDown = errors.New("queue: shutting down")

// State is the lifecycle state of a named job.
type State string

const (
	StateAbsent  State = "absent"
	StateWaiting State = "waiting"
	StateDelayed State = "delayed"
	StateActive  State = "active"
)

// Job describes one unit of work.
type Job struct {
	Name     string
	JobID    string
	Payload  []byte
	DelayMs  int64
	Attempts int
	Backoff  time.Duration
}

// Handler processes a single job's payload. A non-nil error (or a panic,
// which the queue recovers and treats as an error) triggers a retry with
// exponential backoff up to Job.Attempts, after which the job moves to
// the dead-letter queue for Name.
type Handler func(ctx context.Context, payload []byte) error

// Transient wraps a backend failure expected to be retryable by the caller.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string {
	return "queue: transient failure during " + e.Op + ": " + e.Err.Error()
}

func (e *Transient) Unwrap() error { return e.Err }

// Queue is the production/test-swappable delayed job queue interface.
type Queue interface {
	// Enqueue submits job. If a waiting or delayed job with the same
	// (Name, JobID) exists it is replaced (delay restarts from now);
	// an active job with that id is left running untouched.
	Enqueue(ctx context.Context, job Job) error

	// JobState reports the current lifecycle state of (name, jobID).
	JobState(ctx context.Context, name, jobID string) (State, error)

	// RegisterWorker registers handler for jobs named name with
	// concurrency workers; the worker goroutines are launched by Start.
	// Safe to call once per name before Start.
	RegisterWorker(name string, concurrency int, handler Handler)

	// SetConcurrency changes the running worker count for name at
	// runtime, draining excess workers gracefully rather than killing
	// in-flight jobs.
	SetConcurrency(ctx context.Context, name string, concurrency int) error

	// Start begins dispatching to registered workers.
	Start(ctx context.Context) error

	// Stop drains in-flight jobs and stops all workers.
	Stop(ctx context.Context) error
}
