package alias

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestResolver(t *testing.T) (*Resolver, *storage.MemoryStorage, *fakeClock) {
	t.Helper()
	store := storage.NewMemoryStorage()
	clock := &fakeClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	return NewResolver(store, clock, 5*time.Minute, zap.NewNop()), store, clock
}

func TestResolveSubstitutesSeedAlias(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	res, err := resolver.Resolve(context.Background(), 1, "I did the Dishes just now")
	require.NoError(t, err)

	assert.Equal(t, "I did the washing dishes just now", res.ResolvedText)
	assert.Equal(t, []string{"dishes"}, res.AppliedAliases)
	assert.Equal(t, []string{"washing dishes"}, res.Canonical)
}

func TestResolveNoMatchReturnsInputUnchanged(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	res, err := resolver.Resolve(context.Background(), 1, "what a lovely morning")
	require.NoError(t, err)

	assert.Equal(t, "what a lovely morning", res.ResolvedText)
	assert.Empty(t, res.AppliedAliases)
}

func TestResolveMatchesWholeWordsOnly(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	// "gym" must not fire inside "gymnasium lecture".
	res, err := resolver.Resolve(context.Background(), 1, "went to a gymnasium lecture")
	require.NoError(t, err)

	assert.Equal(t, "went to a gymnasium lecture", res.ResolvedText)
	assert.Empty(t, res.AppliedAliases)
}

func TestResolveSubstitutesOriginalTextOnly(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	ctx := context.Background()

	// "diskade" maps to "washing dishes", and "dishes" is itself an alias.
	// The replacement output must never be rewritten again.
	res, err := resolver.Resolve(ctx, 1, "diskade klart")
	require.NoError(t, err)
	assert.Equal(t, "washing dishes klart", res.ResolvedText)
	assert.Equal(t, []string{"diskade"}, res.AppliedAliases)
	assert.Equal(t, []string{"washing dishes"}, res.Canonical)

	// Both words present in the input still resolve independently.
	res, err = resolver.Resolve(ctx, 1, "diskade and then more dishes")
	require.NoError(t, err)
	assert.Equal(t, "washing dishes and then more washing dishes", res.ResolvedText)
	assert.ElementsMatch(t, []string{"diskade", "dishes"}, res.AppliedAliases)
}

func TestLearnedAliasWinsOverSeed(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.PutAlias(ctx, &models.AliasRecord{
		ConversationID:    1,
		Alias:             "dishes",
		CanonicalActivity: "emptying dishwasher",
		Confirmations:     2,
		Source:            models.AliasLearned,
	}))

	res, err := resolver.Resolve(ctx, 1, "dishes done")
	require.NoError(t, err)
	assert.Equal(t, "emptying dishwasher done", res.ResolvedText)
}

func TestAliasCacheHonoursTTL(t *testing.T) {
	resolver, store, clock := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, 1, "hello")
	require.NoError(t, err)

	// Written behind the cache's back: invisible until the TTL lapses.
	require.NoError(t, store.PutAlias(ctx, &models.AliasRecord{
		ConversationID:    1,
		Alias:             "sorted the garage",
		CanonicalActivity: "organizing garage",
		Confirmations:     1,
		Source:            models.AliasLearned,
	}))

	res, err := resolver.Resolve(ctx, 1, "sorted the garage")
	require.NoError(t, err)
	assert.Empty(t, res.AppliedAliases)

	clock.Advance(6 * time.Minute)

	res, err = resolver.Resolve(ctx, 1, "sorted the garage")
	require.NoError(t, err)
	assert.Equal(t, "organizing garage", res.ResolvedText)
}

func TestLearnCreatesThenConfirms(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, resolver.Learn(ctx, 1, "Fixade Disken", "washing dishes"))

	rec, err := store.GetAlias(ctx, 1, "fixade disken")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "washing dishes", rec.CanonicalActivity)
	assert.Equal(t, 1, rec.Confirmations)
	assert.Equal(t, models.AliasLearned, rec.Source)

	// Same mapping again increments the counter instead of rewriting.
	require.NoError(t, resolver.Learn(ctx, 1, "fixade disken", "washing dishes"))

	rec, err = store.GetAlias(ctx, 1, "fixade disken")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Confirmations)

	// A different canonical replaces the mapping and resets confirmations.
	require.NoError(t, resolver.Learn(ctx, 1, "fixade disken", "emptying dishwasher"))

	rec, err = store.GetAlias(ctx, 1, "fixade disken")
	require.NoError(t, err)
	assert.Equal(t, "emptying dishwasher", rec.CanonicalActivity)
	assert.Equal(t, 1, rec.Confirmations)
}

func TestLearnInvalidatesCache(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, 1, "warm up the cache")
	require.NoError(t, err)

	require.NoError(t, resolver.Learn(ctx, 1, "storstädade", "deep cleaning"))

	res, err := resolver.Resolve(ctx, 1, "vi storstädade idag")
	require.NoError(t, err)
	assert.Equal(t, "vi deep cleaning idag", res.ResolvedText)
}
