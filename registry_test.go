package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddValidates(t *testing.T) {
	setupTestDB(t)
	registry, err := NewRegistry()
	require.NoError(t, err)

	_, err = registry.Add("", "https://remanga.org/guild/x/settings/donations")
	require.Error(t, err)

	_, err = registry.Add("alpha", "https://example.com/guild/x/settings/donations")
	require.Error(t, err)

	_, err = registry.Add("alpha", "https://remanga.org/guild/x/settings")
	require.Error(t, err)
}

func TestRegistryRoundTrip(t *testing.T) {
	setupTestDB(t)
	registry, err := NewRegistry()
	require.NoError(t, err)

	src, err := registry.Add("alpha", "https://remanga.org/guild/alpha/settings/donations")
	require.NoError(t, err)
	require.NotEmpty(t, src.TableName)

	got, ok := registry.Get("alpha")
	require.True(t, ok)
	require.Equal(t, src, got)

	all := registry.All()
	require.Len(t, all, 1)
	require.Equal(t, "alpha", all[0].Name)

	require.NoError(t, registry.Remove("alpha"))
	_, ok = registry.Get("alpha")
	require.False(t, ok)
	require.Empty(t, registry.All())

	require.Error(t, registry.Remove("alpha"))
}

func TestRegistrySurvivesRestart(t *testing.T) {
	setupTestDB(t)
	registry, err := NewRegistry()
	require.NoError(t, err)

	_, err = registry.Add("alpha", "https://remanga.org/guild/alpha/settings/donations")
	require.NoError(t, err)

	reloaded, err := NewRegistry()
	require.NoError(t, err)
	_, ok := reloaded.Get("alpha")
	require.True(t, ok)
}

func TestUserLimiterCooldownAndInFlight(t *testing.T) {
	limiter := newUserLimiter(50*time.Millisecond, time.Minute)

	require.True(t, limiter.Acquire("u1"))
	require.False(t, limiter.Acquire("u1"), "second acquire while in flight must fail")
	require.True(t, limiter.Acquire("u2"), "other users are independent")

	limiter.Release("u1")
	require.False(t, limiter.Acquire("u1"), "cooldown still active right after release")

	time.Sleep(60 * time.Millisecond)
	require.True(t, limiter.Acquire("u1"))
}

func TestUserLimiterSweepsIdleEntries(t *testing.T) {
	limiter := newUserLimiter(time.Millisecond, 10*time.Millisecond)

	require.True(t, limiter.Acquire("u1"))
	limiter.Release("u1")

	time.Sleep(20 * time.Millisecond)
	require.True(t, limiter.Acquire("u2"))

	limiter.mu.Lock()
	_, stillThere := limiter.entries["u1"]
	limiter.mu.Unlock()
	require.False(t, stillThere)
}
