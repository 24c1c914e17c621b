// Package aggregator implements the per-conversation burst-coalescing
// state machine (spec Component F): Add appends an inbound record to a
// durable pending list and schedules (or reschedules) a delayed job to
// drain it; Process atomically drains the pending list and hands the
// batch to a caller-supplied pipeline function, then re-checks for
// records that arrived during processing and schedules an immediate
// follow-up if any did.
//
// All state lives in the KV store and the job queue — nothing here
// survives only in process memory, unlike the in-process timer/map
// bookkeeping in workspace/application/session_orchestrator.go this is
// structurally modeled on. That file's EnqueueDebounced/FlushDebounced
// shape (compute delay, inspect existing scheduling state, reschedule,
// drain, dispatch, re-check, follow up) is kept; the actual scheduling
// primitive is replaced with domain/queue.Queue so a process restart
// never loses a pending burst.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/domain/kv"
	"github.com/chatmediator/wecom-bridge/domain/queue"
)

// JobName is the queue name the aggregator's drain jobs run under.
const JobName = "process_chat"

// PendingTTL is how long a conversation's pending list survives without
// a new record arriving, matching the external interface contract.
const PendingTTL = 5 * time.Minute

// TunablesFunc supplies the domain.Tunables the aggregator reads; it is
// a function so callers can hot-swap values via config.Store without
// the aggregator holding a stale copy.
type TunablesFunc func() domain.Tunables

// ProcessFunc is the caller-supplied handler invoked with every record
// drained for a chat in one batch. It is the pipeline's entry point for
// Component I's worker-side processing.
type ProcessFunc func(ctx context.Context, chatID string, batch []domain.InboundRecord) error

// Aggregator is the burst-coalescing state machine.
type Aggregator struct {
	kv       kv.Store
	queue    queue.Queue
	tunables TunablesFunc
	process  ProcessFunc
}

// New returns an Aggregator. Call RegisterWorker before queue.Start to
// wire process as the job handler.
func New(store kv.Store, q queue.Queue, tunables TunablesFunc, process ProcessFunc) *Aggregator {
	return &Aggregator{kv: store, queue: q, tunables: tunables, process: process}
}

// RegisterWorker registers the drain job handler with concurrency
// workers on the underlying queue.
func (a *Aggregator) RegisterWorker(concurrency int) {
	a.queue.RegisterWorker(JobName, concurrency, a.handleJob)
}

func pendingKey(chatID string) string {
	return fmt.Sprintf("wecom:message:pending:%s", chatID)
}

// Add appends record to chatID's pending list, refreshes its TTL, and
// ensures a drain job is scheduled: if the primary job id is waiting or
// delayed it is replaced (restarting the delay); if it is active, a
// derived pending job id ("{chat}:pending:{uuid}") is used instead so the in-flight batch is left
// alone and the new record is picked up by a follow-up; if no job
// exists yet, the primary id is used.
func (a *Aggregator) Add(ctx context.Context, record domain.InboundRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("aggregator: marshal record: %w", err)
	}
	key := pendingKey(record.ChatID)
	if err := a.kv.ListAppend(ctx, key, string(data)); err != nil {
		return err
	}
	if err := a.kv.Expire(ctx, key, PendingTTL); err != nil {
		return err
	}

	length, err := a.kv.ListLen(ctx, key)
	if err != nil {
		return err
	}

	t := a.tunables()
	delayMs := t.MergeWindowMs
	if length >= int64(t.MaxMergedMessages) {
		delayMs = 0
	}

	jobID := record.ChatID
	state, err := a.queue.JobState(ctx, JobName, jobID)
	if err != nil {
		return err
	}
	if state == queue.StateActive {
		jobID = fmt.Sprintf("%s:pending:%s", record.ChatID, uuid.NewString())
	}

	return a.queue.Enqueue(ctx, queue.Job{
		Name:     JobName,
		JobID:    jobID,
		Payload:  []byte(record.ChatID),
		DelayMs:  delayMs,
		Attempts: 3,
		Backoff:  2 * time.Second,
	})
}

// enqueueDrain schedules an immediate drain job for chatID without
// touching its pending list — used by the sweeper to recover a
// conversation whose job was lost, never to add a record.
func (a *Aggregator) enqueueDrain(ctx context.Context, chatID string) error {
	return a.queue.Enqueue(ctx, queue.Job{
		Name:     JobName,
		JobID:    chatID,
		Payload:  []byte(chatID),
		DelayMs:  0,
		Attempts: 3,
		Backoff:  2 * time.Second,
	})
}

func (a *Aggregator) handleJob(ctx context.Context, payload []byte) error {
	chatID := string(payload)
	return a.Process(ctx, chatID)
}

// Process atomically drains chatID's pending list and, if it was
// non-empty, hands the batch to the configured ProcessFunc. After the
// handler returns it re-checks the pending list — a record can have
// arrived while the batch was being processed — and if it finds one,
// schedules an immediate (zero-delay) follow-up drain job so nothing is
// left stranded.
func (a *Aggregator) Process(ctx context.Context, chatID string) error {
	key := pendingKey(chatID)
	raw, err := a.kv.AtomicDrain(ctx, key)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	batch := make([]domain.InboundRecord, 0, len(raw))
	for _, r := range raw {
		var rec domain.InboundRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			logrus.Warnf("[Aggregator] dropping unparseable pending record for %s: %v", chatID, err)
			continue
		}
		batch = append(batch, rec)
	}

	processErr := a.process(ctx, chatID, batch)

	remaining, err := a.kv.ListLen(ctx, key)
	if err != nil {
		if processErr != nil {
			return processErr
		}
		return err
	}
	if remaining > 0 {
		followUpID := fmt.Sprintf("%s:retry:%s", chatID, uuid.NewString())
		err := a.queue.Enqueue(ctx, queue.Job{
			Name:     JobName,
			JobID:    followUpID,
			Payload:  []byte(chatID),
			DelayMs:  0,
			Attempts: 3,
			Backoff:  2 * time.Second,
		})
		if err != nil && processErr == nil {
			return err
		}
	}
	return processErr
}
