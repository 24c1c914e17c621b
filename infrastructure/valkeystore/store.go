// Package valkeystore implements domain/kv.Store on top of Valkey,
// grounded on infrastructure/valkey's client wrapper and the
// SET/SCAN/Lua-script idioms used throughout the session store it was
// adapted from.
package valkeystore

import (
	"context"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/chatmediator/wecom-bridge/domain/kv"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
)

// maxRetries bounds how many times a transient backend error is retried
// before Store gives up and surfaces a *kv.Transient to the caller.
const maxRetries = 3

const retryBaseDelay = 50 * time.Millisecond

// Store implements kv.Store against a Valkey/Redis-compatible backend.
type Store struct {
	client *valkey.Client
}

// New wraps client as a kv.Store.
func New(client *valkey.Client) *Store {
	return &Store{client: client}
}

func (s *Store) inner() valkeylib.Client { return s.client.Inner() }

// withRetry runs op up to maxRetries+1 times, sleeping with linear backoff
// between attempts, and wraps the final failure as *kv.Transient.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retryBaseDelay * time.Duration(attempt+1)):
				}
				continue
			}
			return &kv.Transient{Op: op, Err: lastErr}
		}
		return nil
	}
	return &kv.Transient{Op: op, Err: lastErr}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	var found bool
	err := withRetry(ctx, "get", func() error {
		cmd := s.inner().B().Get().Key(key).Build()
		v, err := s.inner().Do(ctx, cmd).ToString()
		if err != nil {
			if valkey.IsNil(err) {
				found = false
				return nil
			}
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", kv.ErrNotFound
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return withRetry(ctx, "set", func() error {
		builder := s.inner().B().Set().Key(key).Value(value)
		var cmd valkeylib.Completed
		if ttl > 0 {
			cmd = builder.Ex(ttl).Build()
		} else {
			cmd = builder.Build()
		}
		return s.inner().Do(ctx, cmd).Error()
	})
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := withRetry(ctx, "set_if_absent", func() error {
		builder := s.inner().B().Set().Key(key).Value(value).Nx()
		var cmd valkeylib.Completed
		if ttl > 0 {
			cmd = builder.Ex(ttl).Build()
		} else {
			cmd = builder.Build()
		}
		res := s.inner().Do(ctx, cmd)
		if err := res.Error(); err != nil {
			if valkey.IsNil(err) {
				ok = false
				return nil
			}
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, "delete", func() error {
		cmd := s.inner().B().Del().Key(key).Build()
		return s.inner().Do(ctx, cmd).Error()
	})
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return withRetry(ctx, "expire", func() error {
		cmd := s.inner().B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build()
		_, err := s.inner().Do(ctx, cmd).AsInt64()
		return err
	})
}

func (s *Store) ListAppend(ctx context.Context, key string, value string) error {
	return withRetry(ctx, "list_append", func() error {
		cmd := s.inner().B().Rpush().Key(key).Element(value).Build()
		return s.inner().Do(ctx, cmd).Error()
	})
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := withRetry(ctx, "list_range", func() error {
		cmd := s.inner().B().Lrange().Key(key).Start(start).Stop(stop).Build()
		v, err := s.inner().Do(ctx, cmd).AsStrSlice()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return withRetry(ctx, "list_trim", func() error {
		cmd := s.inner().B().Ltrim().Key(key).Start(start).Stop(stop).Build()
		return s.inner().Do(ctx, cmd).Error()
	})
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := withRetry(ctx, "list_len", func() error {
		cmd := s.inner().B().Llen().Key(key).Build()
		v, err := s.inner().Do(ctx, cmd).AsInt64()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

func (s *Store) Scan(ctx context.Context, cursor uint64, prefixGlob string, pageSize int64) (kv.ScanPage, error) {
	var page kv.ScanPage
	err := withRetry(ctx, "scan", func() error {
		cmd := s.inner().B().Scan().Cursor(cursor).Match(prefixGlob).Count(pageSize).Build()
		result, err := s.inner().Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return err
		}
		page = kv.ScanPage{Keys: result.Elements, Cursor: result.Cursor, Done: result.Cursor == 0}
		return nil
	})
	return page, err
}

// atomicDrainScript empties the list at KEYS[1] and returns its former
// contents in one round trip, so a concurrent appender can never observe
// a state where the drain saw the list but the delete raced it — the
// range and the delete happen inside a single Lua evaluation.
const atomicDrainScript = `
local vals = redis.call("lrange", KEYS[1], 0, -1)
redis.call("del", KEYS[1])
return vals
`

// AtomicDrain returns and clears the full contents of the list at key in
// one round trip via atomicDrainScript. A record appended after the
// script has run stays in the list for a follow-up drain, which the
// caller (the burst aggregator) checks for.
func (s *Store) AtomicDrain(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := withRetry(ctx, "atomic_drain", func() error {
		cmd := s.inner().B().Eval().Script(atomicDrainScript).Numkeys(1).Key(key).Build()
		v, err := s.inner().Do(ctx, cmd).AsStrSlice()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
