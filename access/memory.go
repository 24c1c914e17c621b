package access

import (
	"context"
	"sync"
)

// MemoryChecker is an in-memory filter.AccessChecker for tests.
type MemoryChecker struct {
	mu             sync.Mutex
	paused         map[string]bool
	blacklisted    map[string]bool
	blockedGroups  map[string]bool
}

// NewMemoryChecker returns an empty MemoryChecker.
func NewMemoryChecker() *MemoryChecker {
	return &MemoryChecker{
		paused:        make(map[string]bool),
		blacklisted:   make(map[string]bool),
		blockedGroups: make(map[string]bool),
	}
}

func (m *MemoryChecker) SetPaused(senderID string, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[senderID] = paused
}

func (m *MemoryChecker) SetBlacklisted(chatID string, blacklisted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklisted[chatID] = blacklisted
}

func (m *MemoryChecker) SetGroupBlocked(groupID string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockedGroups[groupID] = blocked
}

func (m *MemoryChecker) IsUserPaused(_ context.Context, senderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[senderID], nil
}

func (m *MemoryChecker) IsGroupBlacklisted(_ context.Context, chatID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklisted[chatID], nil
}

func (m *MemoryChecker) IsEnterpriseGroupBlocked(_ context.Context, groupID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockedGroups[groupID], nil
}
