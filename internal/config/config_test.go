package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ANON_VOTE_LIMIT", "")
	t.Setenv("ANON_VOTE_WINDOW", "")
	t.Setenv("RANKING_CACHE_ENABLED", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.AnonVoteLimit)
	assert.Equal(t, 24*time.Hour, cfg.AnonVoteWindow)
	assert.True(t, cfg.RankingCacheEnabled)
	assert.Equal(t, 5*time.Minute, cfg.RankingCacheTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ANON_VOTE_LIMIT", "3")
	t.Setenv("ANON_VOTE_WINDOW", "1h")
	t.Setenv("RANKING_CACHE_ENABLED", "false")
	t.Setenv("BROADCAST_DRIVER", "NATS")

	cfg := Load()

	assert.Equal(t, 3, cfg.AnonVoteLimit)
	assert.Equal(t, time.Hour, cfg.AnonVoteWindow)
	assert.False(t, cfg.RankingCacheEnabled)
	assert.Equal(t, "nats", cfg.BroadcastDriver)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("ANON_VOTE_LIMIT", "five")
	t.Setenv("RECONCILE_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 5, cfg.AnonVoteLimit)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
}
