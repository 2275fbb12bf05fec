package seed_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/ledger/memstore"
	"github.com/campusengage/points-engine/seed"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestShopCatalog(t *testing.T) {
	items := seed.ShopCatalog()
	require.Len(t, items, 15)

	names := make(map[string]bool)
	for _, it := range items {
		assert.False(t, names[it.Name], "duplicate %s", it.Name)
		names[it.Name] = true
		assert.Positive(t, it.PointsCost)
		assert.True(t, it.IsActive)
	}
	assert.Equal(t, int64(200), items[0].PointsCost)
}

func TestSeedShop_RerunUpdatesInPlace(t *testing.T) {
	// GIVEN: an empty store
	store := memstore.New()
	ctx := context.Background()

	// WHEN: seeding twice
	first, err := seed.SeedShop(ctx, store, seed.ShopCatalog(), quiet())
	require.NoError(t, err)
	second, err := seed.SeedShop(ctx, store, seed.ShopCatalog(), quiet())
	require.NoError(t, err)

	// THEN: the second run only updates
	assert.Equal(t, seed.Result{Created: 15}, first)
	assert.Equal(t, seed.Result{Updated: 15}, second)
	items, err := store.ListItems(ctx, false)
	require.NoError(t, err)
	assert.Len(t, items, 15)
}

func TestSeedDemo(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, seed.SeedDemo(ctx, store, now))
	require.NoError(t, seed.SeedDemo(ctx, store, now))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, len(seed.DemoUsers()))

	ev, err := store.GetEvent(ctx, seed.DemoEvent)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, int64(25), ev.PointsPerParticipant)

	pending, err := store.PendingSubmissions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ledger.SubmissionCertificate, pending[0].Type)
}
