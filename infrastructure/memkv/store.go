// Package memkv is an in-memory domain/kv.Store implementation used in
// tests, mirroring the Valkey implementation's semantics without a real
// backend. Grounded on the repo-wide convention of pairing every
// Valkey-backed store with a memory-backed twin for unit tests.
package memkv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatmediator/wecom-bridge/domain/kv"
)

type entry struct {
	value   string
	list    []string
	expires time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Store is a mutex-guarded in-memory key-value store.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

func (s *Store) getLocked(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func ttlDeadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		return "", kv.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &entry{value: value, expires: ttlDeadline(ttl)}
	return nil
}

func (s *Store) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.getLocked(key); ok {
		return false, nil
	}
	s.data[key] = &entry{value: value, expires: ttlDeadline(ttl)}
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		return nil
	}
	e.expires = ttlDeadline(ttl)
	return nil
}

func (s *Store) ListAppend(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	e.list = append(e.list, value)
	return nil
}

func normalizeIdx(idx, n int64) int64 {
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 {
		idx = 0
	}
	if idx > n {
		idx = n
	}
	return idx
}

func (s *Store) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		return nil, nil
	}
	n := int64(len(e.list))
	lo := normalizeIdx(start, n)
	hi := normalizeIdx(stop, n)
	if stop == -1 {
		hi = n - 1
	}
	if lo > hi || lo >= n {
		return nil, nil
	}
	if hi >= n {
		hi = n - 1
	}
	out := make([]string, hi-lo+1)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

func (s *Store) ListTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		return nil
	}
	n := int64(len(e.list))
	lo := normalizeIdx(start, n)
	hi := normalizeIdx(stop, n)
	if stop == -1 {
		hi = n - 1
	}
	if lo > hi || lo >= n {
		e.list = nil
		return nil
	}
	if hi >= n {
		hi = n - 1
	}
	e.list = append([]string{}, e.list[lo:hi+1]...)
	return nil
}

func (s *Store) ListLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

// AtomicDrain mirrors valkeystore.Store.AtomicDrain: returns and clears
// the list at key in a single mutex-held step (the in-memory equivalent
// of the Lua-script round trip the Valkey backend uses).
func (s *Store) AtomicDrain(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.getLocked(key)
	if !ok {
		return nil, nil
	}
	out := e.list
	e.list = nil
	return out, nil
}

func globMatch(pattern, s string) bool {
	// Only the "*" wildcard is used by this codebase's key patterns.
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	rest := s[len(parts[0]):]
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		idx := strings.Index(rest, p)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(p):]
	}
	return true
}

// Scan ignores cursor/pageSize pagination and returns every matching key
// in one page — acceptable for the small datasets exercised in tests.
func (s *Store) Scan(_ context.Context, _ uint64, prefixGlob string, _ int64) (kv.ScanPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []string
	for k, e := range s.data {
		if e.expired(now) {
			continue
		}
		if globMatch(prefixGlob, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return kv.ScanPage{Keys: keys, Cursor: 0, Done: true}, nil
}
