// Package access answers the small, frequently-read access-control
// questions the filter needs (paused users, blacklisted groups, blocked
// enterprise group ids), memoizing lookups with a short TTL in front of
// a gorm-backed table. Grounded on
// workspace/application/message_processor.go's IsAccessAllowed
// rule-read-then-cache pattern.
package access

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// cacheTTL bounds how long a negative or positive lookup is trusted
// before the cache re-reads the backing table.
const cacheTTL = 30 * time.Second

// PausedUser is the gorm model for a user who has paused bot replies.
type PausedUser struct {
	SenderID  string `gorm:"primaryKey"`
	PausedAt  time.Time
}

// BlacklistedGroup is the gorm model for a chat group the bot should
// only record, never reply in.
type BlacklistedGroup struct {
	ChatID string `gorm:"primaryKey"`
}

// BlockedEnterpriseGroup is the gorm model for an enterprise group_id the
// bot must reject outright.
type BlockedEnterpriseGroup struct {
	GroupID string `gorm:"primaryKey"`
}

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// Cache implements filter.AccessChecker, backed by db with an in-process
// TTL cache so the hot webhook path rarely touches the database.
type Cache struct {
	db *gorm.DB

	mu   sync.Mutex
	data map[string]cacheEntry
}

// New returns a Cache reading from db. Callers must have already run the
// migrations for PausedUser, BlacklistedGroup, and BlockedEnterpriseGroup.
func New(db *gorm.DB) *Cache {
	return &Cache{db: db, data: make(map[string]cacheEntry)}
}

func (c *Cache) lookup(key string, query func() (bool, error)) (bool, error) {
	c.mu.Lock()
	if e, ok := c.data[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := query()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.data[key] = cacheEntry{value: value, expiresAt: time.Now().Add(cacheTTL)}
	c.mu.Unlock()
	return value, nil
}

func (c *Cache) IsUserPaused(ctx context.Context, senderID string) (bool, error) {
	return c.lookup("paused:"+senderID, func() (bool, error) {
		var count int64
		err := c.db.WithContext(ctx).Model(&PausedUser{}).Where("sender_id = ?", senderID).Count(&count).Error
		return count > 0, err
	})
}

func (c *Cache) IsGroupBlacklisted(ctx context.Context, chatID string) (bool, error) {
	return c.lookup("blacklist:"+chatID, func() (bool, error) {
		var count int64
		err := c.db.WithContext(ctx).Model(&BlacklistedGroup{}).Where("chat_id = ?", chatID).Count(&count).Error
		return count > 0, err
	})
}

func (c *Cache) IsEnterpriseGroupBlocked(ctx context.Context, groupID string) (bool, error) {
	return c.lookup("blocked_group:"+groupID, func() (bool, error) {
		var count int64
		err := c.db.WithContext(ctx).Model(&BlockedEnterpriseGroup{}).Where("group_id = ?", groupID).Count(&count).Error
		return count > 0, err
	})
}
