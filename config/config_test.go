package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 16, cfg.Counter.Shards)
	assert.Equal(t, 50*time.Millisecond, cfg.Fanout.PollInterval)
	assert.True(t, cfg.Notification.BumpOnRepeat)
	assert.Equal(t, int64(10000), cfg.Feed.PushThreshold)
	assert.Empty(t, cfg.Moderation.Accounts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SOCIALSYNC_COUNTER_SHARDS", "4")
	t.Setenv("SOCIALSYNC_DATABASE_DRIVER", "sqlite")
	t.Setenv("SOCIALSYNC_FEED_PUSH_THRESHOLD", "3")
	t.Setenv("SOCIALSYNC_MODERATION_ACCOUNTS", "aa,bb")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Counter.Shards)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(3), cfg.Feed.PushThreshold)
	assert.Equal(t, []string{"aa", "bb"}, cfg.Moderation.Accounts)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SOCIALSYNC_COUNTER_SHARDS", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SOCIALSYNC_COUNTER_SHARDS", "2")
	t.Setenv("SOCIALSYNC_DATABASE_DRIVER", "mongo")
	_, err = Load()
	assert.Error(t, err)
}

func TestDefaultMatchesLoad(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 64, cfg.Post.MaxDepth)
	assert.Equal(t, uint(5), cfg.Command.MaxRetries)
}
