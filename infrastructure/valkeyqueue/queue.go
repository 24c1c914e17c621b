// Package valkeyqueue implements domain/queue.Queue on top of Valkey.
// No ready-made delayed job-queue library ships alongside valkey-go in
// this codebase's dependency set, so the queue is hand-built from Valkey
// primitives: a list per job name holds ids ready to run now, a sorted
// set holds ids delayed until a future timestamp, and a hash per job id
// holds its payload/attempt bookkeeping. Replace-on-enqueue, promotion
// of due jobs and claiming run as Lua scripts for atomicity, extending the
// same CAS-via-Lua idiom the session store uses for its distributed lock;
// ack, retry and dead-lettering are issued as separate commands.
package valkeyqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/chatmediator/wecom-bridge/domain/queue"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
)

const pollInterval = 150 * time.Millisecond
const scheduleInterval = 200 * time.Millisecond

// enqueueScript atomically replaces a waiting or delayed job with the
// same id, leaving an active job untouched. It returns the resulting
// state so the caller can log what happened.
const enqueueScript = `
local state = redis.call("HGET", KEYS[1], "state")
if state == "active" then
  return "active"
end
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
local delay = tonumber(ARGV[3])
local now = tonumber(ARGV[6])
local runAt = now + delay
redis.call("HSET", KEYS[1],
  "payload", ARGV[2],
  "attempts_max", ARGV[4],
  "backoff_ms", ARGV[5],
  "run_at", runAt,
  "tries", 0)
if delay <= 0 then
  redis.call("HSET", KEYS[1], "state", "waiting")
  redis.call("RPUSH", KEYS[2], ARGV[1])
  return "waiting"
else
  redis.call("HSET", KEYS[1], "state", "delayed")
  redis.call("ZADD", KEYS[3], runAt, ARGV[1])
  return "delayed"
end
`

// promoteScript moves one due id from the delayed zset to the waiting
// list, guarding against a concurrent enqueue having already claimed it.
const promoteScript = `
local id = ARGV[1]
local state = redis.call("HGET", KEYS[1], "state")
if state ~= "delayed" then
  redis.call("ZREM", KEYS[3], id)
  return "skip"
end
redis.call("ZREM", KEYS[3], id)
redis.call("HSET", KEYS[1], "state", "waiting")
redis.call("RPUSH", KEYS[2], id)
return "promoted"
`

// claimScript atomically pops one id from the waiting list and marks it
// active, so two workers can never both pick up the same job.
const claimScript = `
local id = redis.call("LPOP", KEYS[2])
if not id then
  return nil
end
redis.call("HSET", KEYS[1] .. ":" .. id, "state", "active")
return id
`

type jobMeta struct {
	Payload     string
	AttemptsMax int
	BackoffMs   int64
	Tries       int
}

// Queue implements domain/queue.Queue against a Valkey backend.
type Queue struct {
	client *valkey.Client

	mu       sync.Mutex
	handlers map[string]*workerGroup

	stopped atomic.Bool
}

type workerGroup struct {
	name        string
	handler     queue.Handler
	concurrency atomic.Int32
	cancels     []context.CancelFunc
	mu          sync.Mutex
}

// New wraps client as a domain/queue.Queue.
func New(client *valkey.Client) *Queue {
	return &Queue{client: client, handlers: make(map[string]*workerGroup)}
}

func (q *Queue) inner() valkeylib.Client { return q.client.Inner() }

func (q *Queue) metaKey(name, id string) string    { return q.client.Key("queue", "meta", name, id) }
func (q *Queue) waitingKey(name string) string      { return q.client.Key("queue", "waiting", name) }
func (q *Queue) delayedKey(name string) string      { return q.client.Key("queue", "delayed", name) }
func (q *Queue) dlqKey(name string) string          { return q.client.Key("queue", "dlq", name) }

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.Attempts <= 0 {
		job.Attempts = 3
	}
	cmd := q.inner().B().Eval().
		Script(enqueueScript).
		Numkeys(3).
		Key(q.metaKey(job.Name, job.JobID), q.waitingKey(job.Name), q.delayedKey(job.Name)).
		Arg(job.JobID, string(job.Payload),
			fmt.Sprintf("%d", job.DelayMs),
			fmt.Sprintf("%d", job.Attempts),
			fmt.Sprintf("%d", job.Backoff.Milliseconds()),
			fmt.Sprintf("%d", time.Now().UnixMilli())).
		Build()
	if err := q.inner().Do(ctx, cmd).Error(); err != nil {
		return &queue.Transient{Op: "enqueue", Err: err}
	}
	return nil
}

func (q *Queue) JobState(ctx context.Context, name, jobID string) (queue.State, error) {
	cmd := q.inner().B().Hget().Key(q.metaKey(name, jobID)).Field("state").Build()
	v, err := q.inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return queue.StateAbsent, nil
		}
		return queue.StateAbsent, &queue.Transient{Op: "job_state", Err: err}
	}
	switch v {
	case "waiting":
		return queue.StateWaiting, nil
	case "delayed":
		return queue.StateDelayed, nil
	case "active":
		return queue.StateActive, nil
	default:
		return queue.StateAbsent, nil
	}
}

func (q *Queue) RegisterWorker(name string, concurrency int, handler queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g := &workerGroup{name: name, handler: handler}
	g.concurrency.Store(int32(concurrency))
	q.handlers[name] = g
}

func (q *Queue) SetConcurrency(ctx context.Context, name string, concurrency int) error {
	q.mu.Lock()
	g, ok := q.handlers[name]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("valkeyqueue: no worker registered for %q", name)
	}
	g.resize(ctx, q, concurrency)
	return nil
}

func (g *workerGroup) resize(ctx context.Context, q *Queue, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.concurrency.Store(int32(n))
	current := len(g.cancels)
	for current < n {
		wctx, cancel := context.WithCancel(ctx)
		g.cancels = append(g.cancels, cancel)
		go q.runWorker(wctx, g, current)
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
		g.resize(ctx, q, int(g.concurrency.Load()))
		go q.runScheduler(ctx, name)
	}
	logrus.Infof("[Queue] started with %d registered job names", len(names))
	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	q.stopped.Store(true)
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, g := range q.handlers {
		g.resize(ctx, q, 0)
	}
	return nil
}

// runScheduler periodically promotes delayed jobs whose run_at has
// elapsed into the waiting list, mirroring the stale-entry sweep ticker
// pattern used by the in-memory worker pool this queue generalizes.
func (q *Queue) runScheduler(ctx context.Context, name string) {
	ticker := time.NewTicker(scheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx, name)
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context, name string) {
	now := time.Now().UnixMilli()
	cmd := q.inner().B().Zrangebyscore().
		Key(q.delayedKey(name)).
		Min("-inf").
		Max(fmt.Sprintf("%d", now)).
		Build()
	ids, err := q.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		logrus.Warnf("[Queue] promoteDue scan failed for %s: %v", name, err)
		return
	}
	for _, id := range ids {
		script := q.inner().B().Eval().
			Script(promoteScript).
			Numkeys(3).
			Key(q.metaKey(name, id), q.waitingKey(name), q.delayedKey(name)).
			Arg(id).
			Build()
		if err := q.inner().Do(ctx, script).Error(); err != nil {
			logrus.Warnf("[Queue] promote failed for %s/%s: %v", name, id, err)
		}
	}
}

func (q *Queue) runWorker(ctx context.Context, g *workerGroup, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		jobID, payload, ok := q.claim(ctx, g.name)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		// A claimed job runs to completion even if this worker is
		// cancelled meanwhile; the worker exits after it.
		q.run(context.WithoutCancel(ctx), g, jobID, payload)
	}
}

func (q *Queue) claim(ctx context.Context, name string) (string, []byte, bool) {
	cmd := q.inner().B().Eval().
		Script(claimScript).
		Numkeys(2).
		Key(q.client.Key("queue", "meta", name), q.waitingKey(name)).
		Build()
	res := q.inner().Do(ctx, cmd)
	id, err := res.ToString()
	if err != nil || id == "" {
		return "", nil, false
	}
	payloadCmd := q.inner().B().Hget().Key(q.metaKey(name, id)).Field("payload").Build()
	payload, err := q.inner().Do(ctx, payloadCmd).ToString()
	if err != nil {
		return id, nil, true
	}
	return id, []byte(payload), true
}

func (q *Queue) run(ctx context.Context, g *workerGroup, jobID string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[Queue] worker panic for %s/%s: %v", g.name, jobID, r)
			q.retryOrDLQ(ctx, g.name, jobID, payload, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := g.handler(ctx, payload); err != nil {
		q.retryOrDLQ(ctx, g.name, jobID, payload, err)
		return
	}
	q.ack(ctx, g.name, jobID)
}

func (q *Queue) ack(ctx context.Context, name, jobID string) {
	cmd := q.inner().B().Del().Key(q.metaKey(name, jobID)).Build()
	_ = q.inner().Do(ctx, cmd).Error()
}

func (q *Queue) retryOrDLQ(ctx context.Context, name, jobID string, payload []byte, cause error) {
	metaCmd := q.inner().B().Hmget().Key(q.metaKey(name, jobID)).Field("tries", "attempts_max", "backoff_ms").Build()
	vals, err := q.inner().Do(ctx, metaCmd).AsStrSlice()
	tries, maxAttempts, backoffMs := 0, 3, int64(2000)
	if err == nil && len(vals) == 3 {
		fmt.Sscanf(vals[0], "%d", &tries)
		fmt.Sscanf(vals[1], "%d", &maxAttempts)
		fmt.Sscanf(vals[2], "%d", &backoffMs)
	}
	tries++
	if tries >= maxAttempts {
		logrus.Warnf("[Queue] %s/%s exhausted %d attempts (%v), moving to DLQ", name, jobID, tries, cause)
		dead, _ := json.Marshal(map[string]any{
			"job_id": jobID, "payload": string(payload), "error": cause.Error(), "tries": tries,
		})
		push := q.inner().B().Rpush().Key(q.dlqKey(name)).Element(string(dead)).Build()
		_ = q.inner().Do(ctx, push).Error()
		del := q.inner().B().Del().Key(q.metaKey(name, jobID)).Build()
		_ = q.inner().Do(ctx, del).Error()
		return
	}
	delay := backoffMs
	for i := 1; i < tries; i++ {
		delay *= 2
	}
	runAt := time.Now().Add(time.Duration(delay) * time.Millisecond).UnixMilli()
	hset := q.inner().B().Hset().Key(q.metaKey(name, jobID)).FieldValue().
		FieldValue("state", "delayed").
		FieldValue("tries", fmt.Sprintf("%d", tries)).
		FieldValue("run_at", fmt.Sprintf("%d", runAt)).
		Build()
	_ = q.inner().Do(ctx, hset).Error()
	zadd := q.inner().B().Zadd().Key(q.delayedKey(name)).ScoreMember().ScoreMember(float64(runAt), jobID).Build()
	_ = q.inner().Do(ctx, zadd).Error()
	logrus.Warnf("[Queue] %s/%s failed (attempt %d/%d), retrying in %dms: %v", name, jobID, tries, maxAttempts, delay, cause)
}

var _ jobMeta // referenced only for documentation of the Hmget field order above
