package l1_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rebac/rebac/internal/cache/l1"
)

func newTestCache(maxSize int, ttl time.Duration) *l1.Cache {
	return l1.New(l1.Config{MaxSize: maxSize, BaseTTL: ttl})
}

func TestCacheBasicOperations(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.False(t, ok, "miss before any set")

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	require.True(t, ok)
	assert.True(t, result)

	_, ok = c.Get(ctx, "agent", "alice", "write", "file", "/doc.txt", "")
	assert.False(t, ok, "different permission on same subject/object is a distinct key")
}

func TestCacheTTLExpiration(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, 30*time.Millisecond)

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)

	_, ok = c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.False(t, ok, "entry must miss once its jittered TTL has elapsed")
}

func TestCacheInvalidateSubject(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Set(ctx, "agent", "alice", "read", "file", "/doc1.txt", true)
	c.Set(ctx, "agent", "alice", "write", "file", "/doc2.txt", true)
	c.Set(ctx, "agent", "bob", "read", "file", "/doc3.txt", true)

	count := c.InvalidateSubject("agent", "alice", "")
	assert.Equal(t, 2, count)

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc1.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "agent", "alice", "write", "file", "/doc2.txt", "")
	assert.False(t, ok)

	result, ok := c.Get(ctx, "agent", "bob", "read", "file", "/doc3.txt", "")
	require.True(t, ok)
	assert.True(t, result)
}

func TestCacheInvalidateObject(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	c.Set(ctx, "agent", "bob", "write", "file", "/doc.txt", true)
	c.Set(ctx, "agent", "alice", "read", "file", "/other.txt", false)

	count := c.InvalidateObject("file", "/doc.txt", "")
	assert.Equal(t, 2, count)

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "agent", "bob", "write", "file", "/doc.txt", "")
	assert.False(t, ok)

	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/other.txt", "")
	require.True(t, ok)
	assert.False(t, result)
}

func TestCacheInvalidatePair(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	c.Set(ctx, "agent", "alice", "write", "file", "/doc.txt", true)
	c.Set(ctx, "agent", "alice", "read", "file", "/other.txt", true)
	c.Set(ctx, "agent", "bob", "read", "file", "/doc.txt", true)

	count := c.InvalidatePair("agent", "alice", "file", "/doc.txt", "")
	assert.Equal(t, 2, count)

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "agent", "alice", "write", "file", "/doc.txt", "")
	assert.False(t, ok)

	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/other.txt", "")
	require.True(t, ok)
	assert.True(t, result)
	result, ok = c.Get(ctx, "agent", "bob", "read", "file", "/doc.txt", "")
	require.True(t, ok)
	assert.True(t, result)
}

func TestCacheInvalidateObjectPrefix(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Set(ctx, "agent", "alice", "read", "file", "/workspace/project/a.txt", true)
	c.Set(ctx, "agent", "bob", "write", "file", "/workspace/project/b.txt", true)
	c.Set(ctx, "agent", "alice", "read", "file", "/workspace/other/c.txt", true)
	c.Set(ctx, "agent", "alice", "read", "file", "/home/d.txt", true)

	count := c.InvalidateObjectPrefix("file", "/workspace/project", "")
	assert.Equal(t, 2, count)

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/workspace/project/a.txt", "")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "agent", "bob", "write", "file", "/workspace/project/b.txt", "")
	assert.False(t, ok)

	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/workspace/other/c.txt", "")
	require.True(t, ok)
	assert.True(t, result)
	result, ok = c.Get(ctx, "agent", "alice", "read", "file", "/home/d.txt", "")
	require.True(t, ok)
	assert.True(t, result)
}

func TestCacheInvalidateObjectPrefixDeepHierarchy(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	deepPath := "/workspace/project/src/utils/helpers/common.py"
	c.Set(ctx, "agent", "alice", "read", "file", deepPath, true)

	count := c.InvalidateObjectPrefix("file", "/workspace", "")
	assert.Equal(t, 1, count)

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", deepPath, "")
	assert.False(t, ok)
}

func TestCacheZoneIsolation(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true, l1.WithZone("zone1"))
	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", false, l1.WithZone("zone2"))

	result1, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "zone1")
	require.True(t, ok)
	result2, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "zone2")
	require.True(t, ok)

	assert.True(t, result1)
	assert.False(t, result2)
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Set(ctx, "agent", "alice", "read", "file", "/doc1.txt", true)
	c.Set(ctx, "agent", "bob", "write", "file", "/doc2.txt", false)
	assert.Equal(t, 2, c.Stats().CurrentSize)

	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.CurrentSize)
	assert.Equal(t, 0, stats.SubjectIndexSize)
	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc1.txt", "")
	assert.False(t, ok)
}

func TestCacheStats(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "") // miss
	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "") // hit
	c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "") // hit

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Sets)
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.InDelta(t, 66.67, stats.HitRatePercent, 0.01)
}

func TestCacheResetStats(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")

	c.ResetStats()

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Sets)

	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	require.True(t, ok, "resetting stats must not evict entries")
	assert.True(t, result)
}

func TestRevisionQuantization(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: time.Minute, QuantizationWindow: 10, RevisionQuantization: true})

	revision := int64(20)
	c.SetRevisionFetcher(func(_ context.Context, _ string) (int64, error) { return revision, nil })

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true, l1.WithZone("zone1"))

	// Still within the same bucket (20-29 all map to bucket 2): hits.
	revision = 25
	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "zone1")
	require.True(t, ok)
	assert.True(t, result)
}

func TestRevisionQuantizationBucketChange(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: time.Minute, QuantizationWindow: 10, RevisionQuantization: true})

	revision := int64(25) // bucket 2
	c.SetRevisionFetcher(func(_ context.Context, _ string) (int64, error) { return revision, nil })

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true, l1.WithZone("zone1"))

	revision = 35 // bucket 3, and force the local revision cache to re-fetch
	c.SetRevisionFetcher(func(_ context.Context, _ string) (int64, error) { return revision, nil })

	_, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "zone1")
	assert.False(t, ok, "a revision bucket change must miss even though the TTL has not elapsed")
}

func TestFallbackWithoutRevisionFetcher(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: time.Minute, QuantizationWindow: 10, RevisionQuantization: true})

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true)
	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	require.True(t, ok, "no fetcher configured must still behave as a working cache, at bucket 0")
	assert.True(t, result)
}

func TestTieredTTLSelection(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: 5 * time.Minute, JitterPercent: 0})

	c.Set(ctx, "agent", "alice", "manage", "file", "/doc.txt", true, l1.WithRelation("owner"))
	result, ok := c.Get(ctx, "agent", "alice", "manage", "file", "/doc.txt", "")
	require.True(t, ok)
	assert.True(t, result)
}

func TestInheritedFlagOverridesRelationTier(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: time.Minute})

	// An owner-tier relation (1h TTL) that arrived via traversal should get
	// the much shorter inherited TTL instead.
	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true, l1.WithRelation("owner"), l1.WithInherited())
	result, ok := c.Get(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	require.True(t, ok)
	assert.True(t, result)
}

func TestDenialGetsShortestTier(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: time.Minute})

	c.Set(ctx, "agent", "alice", "manage", "file", "/doc.txt", false, l1.WithRelation("owner"))
	result, ok := c.Get(ctx, "agent", "alice", "manage", "file", "/doc.txt", "")
	require.True(t, ok)
	assert.False(t, result)
}

func TestXFetchExpiredAlwaysRefreshes(t *testing.T) {
	ctx := context.Background()
	c := l1.New(l1.Config{MaxSize: 100, BaseTTL: 20 * time.Millisecond, JitterPercent: 0})

	c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true, l1.WithDelta(5*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	assert.True(t, c.ShouldRefreshXFetch(ctx, "agent", "alice", "read", "file", "/doc.txt", "", 1.0))
}

func TestXFetchHigherDeltaRefreshesMoreOften(t *testing.T) {
	ctx := context.Background()

	run := func(delta time.Duration) int {
		c := l1.New(l1.Config{MaxSize: 100, BaseTTL: 60 * time.Second, JitterPercent: 0})
		c.Set(ctx, "agent", "alice", "read", "file", "/doc.txt", true, l1.WithDelta(delta))
		refreshes := 0
		for i := 0; i < 500; i++ {
			if c.ShouldRefreshXFetch(ctx, "agent", "alice", "read", "file", "/doc.txt", "", 1.0) {
				refreshes++
			}
		}
		return refreshes
	}

	low := run(100 * time.Millisecond)
	high := run(5 * time.Second)
	assert.Greater(t, high, low, "a larger observed compute latency should trigger early refresh more often")
}

func TestTryAcquireComputeCoalescesFollowers(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	should1, token1 := c.TryAcquireCompute(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.True(t, should1, "first caller for a key must be told to compute")

	should2, _ := c.TryAcquireCompute(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.False(t, should2, "a concurrent caller for the same key must not be told to compute again")

	c.ReleaseCompute(ctx, token1, "agent", "alice", "read", "file", "/doc.txt", "", true)

	should3, _ := c.TryAcquireCompute(ctx, "agent", "alice", "read", "file", "/doc.txt", "")
	assert.True(t, should3, "once released, a fresh compute can be claimed again")
}

func TestComputeOnceSharesResultAcrossGoroutines(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(100, time.Minute)

	var calls atomic.Int32
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		go func() {
			ok, err := c.ComputeOnce(ctx, "agent", "alice", "read", "file", "/doc.txt", "", func() (bool, error) {
				calls.Add(1)
				time.Sleep(10 * time.Millisecond)
				return true, nil
			})
			require.NoError(t, err)
			results <- ok
		}()
	}
	for i := 0; i < 4; i++ {
		assert.True(t, <-results)
	}
	assert.EqualValues(t, 1, calls.Load(), "concurrent calls for the same key must coalesce into one compute")
}
