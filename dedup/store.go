// Package dedup implements the at-most-once message marker: MarkProcessed
// atomically claims a message_id, IsProcessed offers a cheap advisory
// pre-check. Grounded on the SET-NX-EX distributed-lock idiom used
// throughout the session store this codebase is built on.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatmediator/wecom-bridge/domain/kv"
)

// DefaultTTL matches the default dedup marker lifetime named by the
// external interface contract.
const DefaultTTL = 5 * time.Minute

// Store marks message ids as processed exactly once.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

// New returns a Store with ttl (DefaultTTL if ttl <= 0).
func New(store kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: store, ttl: ttl}
}

func (s *Store) key(messageID string) string {
	return fmt.Sprintf("wecom:message:dedup:%s", messageID)
}

// MarkProcessed atomically claims messageID. It returns true if this call
// won the race (the message had not been marked before), false if some
// other caller already claimed it — callers that lose the race must treat
// the rest of their handling of this message as a no-op.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	return s.kv.SetIfAbsent(ctx, s.key(messageID), time.Now().UTC().Format(time.RFC3339Nano), s.ttl)
}

// IsProcessed is an advisory pre-check: it may race with a concurrent
// MarkProcessed and return false even though the message is about to be
// claimed elsewhere. Callers must not rely on it for correctness — only
// MarkProcessed's atomicity does that — but it lets a webhook retry skip
// redundant filter and history work cheaply.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	_, err := s.kv.Get(ctx, s.key(messageID))
	if err == kv.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
