//go:build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/model"
)

// Run with: PRICEWATCH_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/storage
func newPostgresStorage(t *testing.T) *PostgresStorage {
	t.Helper()
	dsn := os.Getenv("PRICEWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRICEWATCH_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPostgresPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE trackings, price_observations, subscribers, products RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return NewPostgresStorage(pool)
}

func createProduct(t *testing.T, ps *PostgresStorage, catalogID, url string) *model.Product {
	t.Helper()
	p := &model.Product{CatalogID: catalogID, URL: url, Title: "Item", CurrentPrice: price("10.00"), Currency: "EUR"}
	require.NoError(t, ps.CreateProduct(context.Background(), p))
	return p
}

func TestPostgresStorage_AppendObservationMonotonic(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStorage(t)
	p := createProduct(t, ps, "B0C1234567", "https://amazon.it/dp/B0C1234567")

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	first := &model.PriceObservation{ProductID: p.ID, Price: decimal.RequireFromString("10"), Currency: "EUR", ObservedAt: ts}
	second := &model.PriceObservation{ProductID: p.ID, Price: decimal.RequireFromString("9"), Currency: "EUR", ObservedAt: ts}
	earlier := &model.PriceObservation{ProductID: p.ID, Price: decimal.RequireFromString("8"), Currency: "EUR", ObservedAt: ts.Add(-time.Hour)}
	require.NoError(t, ps.AppendObservation(ctx, first))
	require.NoError(t, ps.AppendObservation(ctx, second))
	require.NoError(t, ps.AppendObservation(ctx, earlier))

	assert.True(t, second.ObservedAt.After(first.ObservedAt))
	assert.True(t, earlier.ObservedAt.After(second.ObservedAt))

	all, err := ps.ListObservations(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "zero limit lists everything")
	assert.Equal(t, earlier.ID, all[0].ID, "newest first")

	limited, err := ps.ListObservations(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestPostgresStorage_ActivateTracking(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStorage(t)
	p := createProduct(t, ps, "B0C1234567", "https://amazon.it/dp/B0C1234567")
	require.NoError(t, ps.UpsertSubscriber(ctx, &model.Subscriber{ID: "100"}))

	created, err := ps.ActivateTracking(ctx, "100", p.ID)
	require.NoError(t, err)
	assert.True(t, created.Active)

	_, err = ps.ActivateTracking(ctx, "100", p.ID)
	assert.ErrorIs(t, err, appErr.ErrConflict)

	require.NoError(t, ps.DeactivateTracking(ctx, "100", p.ID))
	reactivated, err := ps.ActivateTracking(ctx, "100", p.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, reactivated.ID, "the row is reused")
}

func TestPostgresStorage_FindProductByCatalogID(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStorage(t)
	legacy := createProduct(t, ps, "", "https://www.amazon.it/Echo/dp/B0C1234567?tag=x")

	got, err := ps.FindProductByCatalogID(ctx, "B0C1234567")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, got.ID, "url fallback")

	exact := createProduct(t, ps, "B0C1234567", "https://amazon.it/dp/B0C1234567")
	got, err = ps.FindProductByCatalogID(ctx, "B0C1234567")
	require.NoError(t, err)
	assert.Equal(t, exact.ID, got.ID, "catalog id column wins over url match")

	_, err = ps.FindProductByCatalogID(ctx, "B0MISSING1")
	assert.True(t, appErr.IsNotFound(err))
}

func TestPostgresStorage_ListMonitoredProducts(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStorage(t)
	tracked := createProduct(t, ps, "B0C1234567", "https://amazon.it/dp/B0C1234567")
	untracked := createProduct(t, ps, "B0OTHER001", "https://amazon.it/dp/B0OTHER001")
	require.NoError(t, ps.UpsertSubscriber(ctx, &model.Subscriber{ID: "100"}))
	_, err := ps.ActivateTracking(ctx, "100", tracked.ID)
	require.NoError(t, err)

	monitored, err := ps.ListMonitoredProducts(ctx)
	require.NoError(t, err)
	require.Len(t, monitored, 2)
	assert.Equal(t, tracked.ID, monitored[0].ID)
	assert.Len(t, monitored[0].Trackings, 1)
	assert.Equal(t, untracked.ID, monitored[1].ID)
	assert.Empty(t, monitored[1].Trackings)
	assert.True(t, decimal.RequireFromString("10").Equal(monitored[1].CurrentPrice.Decimal))
}
