// Package history implements the capped per-conversation message log:
// Append appends, trims and refreshes the TTL, GetForContext
// returns the list for prompt-building (optionally excluding one
// message), GetDetail returns the raw entries, ScanChatIDs enumerates
// known conversations. Grounded on workspace/domain/session's
// capped-history idiom (AddTurn + cap) generalized into a standalone
// per-chat key instead of an embedded session field.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/domain/kv"
)

// MaxHistoryPerChat is the default cap on retained entries per chat.
const MaxHistoryPerChat = 40

// DefaultTTL matches the default history retention window.
const DefaultTTL = 2 * time.Hour

// Store is the history log, backed by kv.Store list primitives.
type Store struct {
	kv       kv.Store
	maxLen   int64
	ttl      time.Duration
}

// New returns a Store with the given cap and TTL (defaults applied when
// either is <= 0).
func New(store kv.Store, maxLen int, ttl time.Duration) *Store {
	if maxLen <= 0 {
		maxLen = MaxHistoryPerChat
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: store, maxLen: int64(maxLen), ttl: ttl}
}

func (s *Store) key(chatID string) string {
	return fmt.Sprintf("chat:history:%s", chatID)
}

// Append adds entry to chatID's history, then trims it to maxLen and
// refreshes the TTL so an active conversation never expires mid-burst.
// These are three separate store calls, not one atomic step. Entries are never backdated: callers are expected to stamp
// Timestamp with the current time before calling Append.
func (s *Store) Append(ctx context.Context, chatID string, entry domain.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("history: marshal entry: %w", err)
	}
	key := s.key(chatID)
	if err := s.kv.ListAppend(ctx, key, string(data)); err != nil {
		return err
	}
	if err := s.kv.ListTrim(ctx, key, -s.maxLen, -1); err != nil {
		return err
	}
	return s.kv.Expire(ctx, key, s.ttl)
}

// GetForContext returns the stored entries for chatID, oldest first,
// excluding the entry whose MessageID equals excludeMessageID (pass ""
// to exclude nothing). Used to build agent context from everything
// except the message currently being answered.
func (s *Store) GetForContext(ctx context.Context, chatID, excludeMessageID string) ([]domain.HistoryEntry, error) {
	all, err := s.GetDetail(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if excludeMessageID == "" {
		return all, nil
	}
	out := make([]domain.HistoryEntry, 0, len(all))
	for _, e := range all {
		if e.MessageID == excludeMessageID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetDetail returns every retained entry for chatID, oldest first.
func (s *Store) GetDetail(ctx context.Context, chatID string) ([]domain.HistoryEntry, error) {
	raw, err := s.kv.ListRange(ctx, s.key(chatID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ScanChatIDs returns every chat id whose history key matches prefix
// (a plain string prefix, not a glob — the glob star is appended here).
func (s *Store) ScanChatIDs(ctx context.Context, prefix string) ([]string, error) {
	pattern := fmt.Sprintf("chat:history:%s*", prefix)
	var out []string
	var cursor uint64
	for {
		page, err := s.kv.Scan(ctx, cursor, pattern, 200)
		if err != nil {
			return nil, err
		}
		for _, k := range page.Keys {
			out = append(out, k[len("chat:history:"):])
		}
		if page.Done {
			break
		}
		cursor = page.Cursor
	}
	return out, nil
}
