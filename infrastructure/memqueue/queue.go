// Package memqueue is an in-memory domain/queue.Queue for tests, grounded
// on botengine/infrastructure/debouncer.go's timer-based accumulate/flush
// shape (generalized from per-key debounce to per-job delay scheduling)
// and pkg/msgworker/pool.go's worker/channel dispatch and panic recovery.
package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatmediator/wecom-bridge/domain/queue"
)

type jobState string

const (
	stateWaiting jobState = "waiting"
	stateDelayed jobState = "delayed"
	stateActive  jobState = "active"
)

type trackedJob struct {
	job   queue.Job
	state jobState
	tries int
	timer *time.Timer
}

type workerGroup struct {
	mu          sync.Mutex
	ready       chan string // job ids ready to run
	handler     queue.Handler
	concurrency int
	cancels     []context.CancelFunc
}

// Queue is a single-process, goroutine-backed job queue for tests.
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]map[string]*trackedJob // name -> jobID -> job
	handlers map[string]*workerGroup
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		jobs:     make(map[string]map[string]*trackedJob),
		handlers: make(map[string]*workerGroup),
	}
}

func (q *Queue) jobsFor(name string) map[string]*trackedJob {
	m, ok := q.jobs[name]
	if !ok {
		m = make(map[string]*trackedJob)
		q.jobs[name] = m
	}
	return m
}

func (q *Queue) Enqueue(_ context.Context, job queue.Job) error {
	if job.Attempts <= 0 {
		job.Attempts = 3
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	m := q.jobsFor(job.Name)
	if existing, ok := m[job.JobID]; ok {
		if existing.state == stateActive {
			return nil
		}
		if existing.timer != nil {
			existing.timer.Stop()
		}
	}

	tj := &trackedJob{job: job}
	m[job.JobID] = tj

	if job.DelayMs <= 0 {
		tj.state = stateWaiting
		q.pushReady(job.Name, job.JobID)
		return nil
	}
	tj.state = stateDelayed
	tj.timer = time.AfterFunc(time.Duration(job.DelayMs)*time.Millisecond, func() {
		q.mu.Lock()
		cur, ok := q.jobs[job.Name][job.JobID]
		if !ok || cur.state != stateDelayed {
			q.mu.Unlock()
			return
		}
		cur.state = stateWaiting
		q.mu.Unlock()
		q.pushReady(job.Name, job.JobID)
	})
	return nil
}

func (q *Queue) pushReady(name, jobID string) {
	q.mu.Lock()
	g, ok := q.handlers[name]
	q.mu.Unlock()
	if !ok {
		return
	}
	select {
	case g.ready <- jobID:
	default:
		go func() { g.ready <- jobID }()
	}
}

func (q *Queue) JobState(_ context.Context, name, jobID string) (queue.State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tj, ok := q.jobs[name][jobID]
	if !ok {
		return queue.StateAbsent, nil
	}
	switch tj.state {
	case stateWaiting:
		return queue.StateWaiting, nil
	case stateDelayed:
		return queue.StateDelayed, nil
	case stateActive:
		return queue.StateActive, nil
	}
	return queue.StateAbsent, nil
}

func (q *Queue) RegisterWorker(name string, concurrency int, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = &workerGroup{
		ready:       make(chan string, 1024),
		handler:     handler,
		concurrency: concurrency,
	}
}

func (q *Queue) SetConcurrency(ctx context.Context, name string, concurrency int) error {
	q.mu.Lock()
	g, ok := q.handlers[name]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("memqueue: no worker registered for %q", name)
	}
	q.resize(ctx, name, g, concurrency)
	return nil
}

func (q *Queue) resize(ctx context.Context, name string, g *workerGroup, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.concurrency = n
	current := len(g.cancels)
	for current < n {
		wctx, cancel := context.WithCancel(ctx)
		g.cancels = append(g.cancels, cancel)
		go q.runWorker(wctx, name, g)
		current++
	}
	for current > n {
		current--
		g.cancels[current]()
		g.cancels = g.cancels[:current]
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	q.mu.Unlock()
	for _, name := range names {
		q.mu.Lock()
		g := q.handlers[name]
		q.mu.Unlock()
		q.resize(ctx, name, g, g.concurrency)
	}
	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for name, g := range q.handlers {
		q.resize(ctx, name, g, 0)
	}
	return nil
}

func (q *Queue) runWorker(ctx context.Context, name string, g *workerGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-g.ready:
			// A claimed job runs to completion even if this worker is
			// cancelled meanwhile; the worker exits after it.
			q.process(context.WithoutCancel(ctx), name, jobID, g)
		}
	}
}

func (q *Queue) process(ctx context.Context, name, jobID string, g *workerGroup) {
	q.mu.Lock()
	tj, ok := q.jobs[name][jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	tj.state = stateActive
	payload := tj.job.Payload
	q.mu.Unlock()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return g.handler(ctx, payload)
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.jobs[name][jobID]
	if !ok {
		return
	}
	if err == nil {
		delete(q.jobs[name], jobID)
		return
	}
	cur.tries++
	if cur.tries >= cur.job.Attempts {
		delete(q.jobs[name], jobID) // moved to DLQ conceptually; tests assert via tries/attempts
		return
	}
	backoff := cur.job.Backoff
	for i := 1; i < cur.tries; i++ {
		backoff *= 2
	}
	cur.state = stateDelayed
	cur.timer = time.AfterFunc(backoff, func() {
		q.mu.Lock()
		c, ok := q.jobs[name][jobID]
		if !ok || c.state != stateDelayed {
			q.mu.Unlock()
			return
		}
		c.state = stateWaiting
		q.mu.Unlock()
		q.pushReady(name, jobID)
	})
}
