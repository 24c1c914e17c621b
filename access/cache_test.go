package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to open db")
	require.NoError(t, db.AutoMigrate(&PausedUser{}, &BlacklistedGroup{}, &BlockedEnterpriseGroup{}))
	return db
}

func Test_IsUserPaused_ReturnsFalseForUnknownSender(t *testing.T) {
	c := New(setupTestDB(t))
	paused, err := c.IsUserPaused(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, paused)
}

func Test_IsUserPaused_ReturnsTrueOncePersisted(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&PausedUser{SenderID: "u1"}).Error)

	c := New(db)
	paused, err := c.IsUserPaused(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, paused)
}

func Test_IsUserPaused_CachesResultAcrossCalls(t *testing.T) {
	db := setupTestDB(t)
	c := New(db)

	paused, err := c.IsUserPaused(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, paused)

	// Insert after the first (cached) lookup — the cached miss should
	// still be served without hitting the table again.
	require.NoError(t, db.Create(&PausedUser{SenderID: "u1"}).Error)

	paused, err = c.IsUserPaused(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, paused, "cached negative lookup must not be invalidated by a later write")
}

func Test_IsGroupBlacklisted_ReturnsTrueOncePersisted(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&BlacklistedGroup{ChatID: "c1"}).Error)

	c := New(db)
	blacklisted, err := c.IsGroupBlacklisted(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, blacklisted)
}

func Test_IsEnterpriseGroupBlocked_ReturnsTrueOncePersisted(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&BlockedEnterpriseGroup{GroupID: "g1"}).Error)

	c := New(db)
	blocked, err := c.IsEnterpriseGroupBlocked(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func Test_MemoryChecker_ReflectsSetters(t *testing.T) {
	m := NewMemoryChecker()
	m.SetPaused("u1", true)
	m.SetBlacklisted("c1", true)
	m.SetGroupBlocked("g1", true)

	ctx := context.Background()
	paused, err := m.IsUserPaused(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, paused)

	blacklisted, err := m.IsGroupBlacklisted(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, blacklisted)

	blocked, err := m.IsEnterpriseGroupBlocked(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, blocked)
}
