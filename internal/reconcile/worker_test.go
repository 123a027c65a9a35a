package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pricesync/internal/config"
	"github.com/sells-group/pricesync/internal/extract"
	"github.com/sells-group/pricesync/internal/fetcher"
	"github.com/sells-group/pricesync/internal/model"
	"github.com/sells-group/pricesync/internal/notify"
	"github.com/sells-group/pricesync/internal/progress"
	"github.com/sells-group/pricesync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeFetcher serves canned pages per URL.
type fakeFetcher struct {
	pages map[string]string
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*fetcher.Page, error) {
	f.calls++
	body, ok := f.pages[url]
	if !ok {
		return nil, eris.Errorf("connection refused: %s", url)
	}
	return &fetcher.Page{Status: 200, Body: body}, nil
}

func metaPage(price string) string {
	return fmt.Sprintf(`<html><head><meta property="og:price:amount" content="%s"></head></html>`, price)
}

func testExtractor(t *testing.T) *extract.Extractor {
	t.Helper()
	e, err := extract.New(config.ExtractConfig{
		StructuredMetaWeight:    90,
		PlatformMetaWeight:      85,
		LinkedDataWeight:        80,
		VisibleElementWeight:    75,
		InlineScriptWeight:      70,
		FrequencyFallbackWeight: 60,
		MinorUnitThreshold:      1000,
		MinorUnitPlatforms:      []string{"shopify"},
	})
	require.NoError(t, err)
	return e
}

type workerFixture struct {
	worker  *Worker
	store   store.Store
	fetcher *fakeFetcher
	tracker *progress.Tracker
}

func newFixture(t *testing.T, pages map[string]string) *workerFixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	ff := &fakeFetcher{pages: pages}
	tracker := progress.NewTracker(s)
	w := NewWorker(s, ff, testExtractor(t), notify.NewDispatcher(s, notify.Options{}), tracker, Options{
		Epsilon:         0.01,
		PolitenessDelay: time.Millisecond,
	})
	return &workerFixture{worker: w, store: s, fetcher: ff, tracker: tracker}
}

func seed(t *testing.T, s store.Store, id string, catalogPrice float64, url string) {
	t.Helper()
	require.NoError(t, s.UpsertProduct(context.Background(), &model.Product{
		ID:           id,
		SKU:          "SKU-" + id,
		Title:        "Product " + id,
		CatalogPrice: catalogPrice,
		SupplierURL:  url,
	}))
}

func TestCheckAllPrices_UpdatesMatchingPrice(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/p1": metaPage("49.99"),
	})
	ctx := context.Background()
	seed(t, fx.store, "p1", 49.99, "https://supplier.example/p1")

	summary, err := fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Errors)

	got, err := fx.store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.SupplierPrice)
	assert.Equal(t, 49.99, *got.SupplierPrice)
	assert.False(t, got.HasDiscrepancy)
	require.NotNil(t, got.LastChecked)

	history, err := fx.store.ListPriceHistory(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// No discrepancy, no notification.
	notifications, err := fx.store.ListNotifications(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestCheckAllPrices_UnreachableSupplierDoesNotAbortRun(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/a": metaPage("10.00"),
		"https://supplier.example/c": metaPage("30.00"),
	})
	ctx := context.Background()
	seed(t, fx.store, "a", 10.00, "https://supplier.example/a")
	seed(t, fx.store, "b", 20.00, "https://supplier.example/unreachable")
	seed(t, fx.store, "c", 30.00, "https://supplier.example/c")

	summary, err := fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 2, summary.Updated)
	assert.GreaterOrEqual(t, summary.Errors, 1)

	p, err := fx.tracker.Get(ctx, SyncTypePriceCheck)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusComplete, p.Status)
	assert.Equal(t, 3, p.ProcessedItems)
	assert.Equal(t, 1, p.FailedItems)
	assert.Equal(t, 100.0, p.Percentage)
}

func TestCheckAllPrices_DiscrepancyNotifiesOnce(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/p1": metaPage("100.02"),
	})
	ctx := context.Background()
	seed(t, fx.store, "p1", 100.00, "https://supplier.example/p1")

	summary, err := fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	got, err := fx.store.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.HasDiscrepancy)

	notifications, err := fx.store.ListNotifications(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "SKU-p1")

	// Second run, same supplier price: no update, no duplicate alert.
	summary, err = fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Errors)

	notifications, err = fx.store.ListNotifications(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func TestCheckAllPrices_UnchangedPriceTouchesLastChecked(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/p1": metaPage("49.99"),
	})
	ctx := context.Background()
	seed(t, fx.store, "p1", 49.99, "https://supplier.example/p1")

	_, err := fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	first, err := fx.store.GetProduct(ctx, "p1")
	require.NoError(t, err)

	_, err = fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	second, err := fx.store.GetProduct(ctx, "p1")
	require.NoError(t, err)

	require.NotNil(t, second.LastChecked)
	assert.False(t, second.LastChecked.Before(*first.LastChecked))

	// Only the first run appended history.
	history, err := fx.store.ListPriceHistory(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCheckAllPrices_NoPriceOnPageCountsAsError(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/p1": "<html><body>Out of stock</body></html>",
	})
	ctx := context.Background()
	seed(t, fx.store, "p1", 10.00, "https://supplier.example/p1")

	summary, err := fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.Errors)
}

func TestCheckAllPrices_RecordsStats(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/p1": metaPage("100.02"),
		"https://supplier.example/p2": metaPage("20.00"),
	})
	ctx := context.Background()
	seed(t, fx.store, "p1", 100.00, "https://supplier.example/p1")
	seed(t, fx.store, "p2", 20.00, "https://supplier.example/p2")

	_, err := fx.worker.CheckAllPrices(ctx)
	require.NoError(t, err)

	st, err := fx.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalChecks)
	assert.Equal(t, int64(1), st.TotalDiscrepancies)
	require.NotNil(t, st.LastPriceCheck)
}

func TestCheckAllPrices_EmptyCatalog(t *testing.T) {
	fx := newFixture(t, nil)

	summary, err := fx.worker.CheckAllPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Checked)
	assert.Equal(t, 0, fx.fetcher.calls)

	p, err := fx.tracker.Get(context.Background(), SyncTypePriceCheck)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusComplete, p.Status)
}

func TestCheckAllPrices_CancelledContext(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"https://supplier.example/a": metaPage("10.00"),
		"https://supplier.example/b": metaPage("20.00"),
	})
	ctx := context.Background()
	seed(t, fx.store, "a", 10.00, "https://supplier.example/a")
	seed(t, fx.store, "b", 20.00, "https://supplier.example/b")

	// Slow the politeness delay down so cancellation lands inside it.
	fx.worker.opts.PolitenessDelay = 5 * time.Second
	cctx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	summary, err := fx.worker.CheckAllPrices(cctx)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Checked)

	p, gerr := fx.tracker.Get(ctx, SyncTypePriceCheck)
	require.NoError(t, gerr)
	assert.Equal(t, model.SyncStatusError, p.Status)
}
