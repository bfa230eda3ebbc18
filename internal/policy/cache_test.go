package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, 10*time.Minute), mr
}

func TestCacheReadThrough(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) ([]Policy, error) {
		loads++
		return []Policy{{ID: 1, Name: "p", MinAmount: decimal.Zero, MaxAmount: decimal.NewFromInt(100), Status: StatusActive}}, nil
	}

	policies, err := cache.FetchActive(ctx, loader)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.Equal(t, 1, loads)

	policies, err = cache.FetchActive(ctx, loader)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.Equal(t, 1, loads, "second fetch served from redis")
}

func TestCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) ([]Policy, error) {
		loads++
		return nil, nil
	}

	_, err := cache.FetchActive(ctx, loader)
	require.NoError(t, err)
	cache.Invalidate(ctx)
	_, err = cache.FetchActive(ctx, loader)
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestResolverUsesCache(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := newMemoryPolicyRepo()
	resolver := NewResolver(repo, cache, nil, nil)
	ctx := context.Background()

	created, err := resolver.Create(ctx, Policy{Name: "p", MinAmount: amt(0), MaxAmount: amt(100), Priority: 1,
		Approvers: []Approver{{Level: 1, UserID: 1, IsRequired: true}}})
	require.NoError(t, err)

	got, err := resolver.FindApplicable(ctx, amt(10), nil, nil)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	// Deactivation invalidates the cached set.
	require.NoError(t, resolver.SetStatus(ctx, created.ID, StatusInactive))
	_, err = resolver.FindApplicable(ctx, amt(10), nil, nil)
	require.ErrorIs(t, err, ErrNoApplicablePolicy)
}
