// Package reconcile runs supplier price checks over the catalog and applies
// the results to product state, history, and notifications.
package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricesync/internal/extract"
	"github.com/sells-group/pricesync/internal/fetcher"
	"github.com/sells-group/pricesync/internal/model"
	"github.com/sells-group/pricesync/internal/notify"
	"github.com/sells-group/pricesync/internal/progress"
	"github.com/sells-group/pricesync/internal/store"
)

// SyncTypePriceCheck is the progress record type for reconciliation runs.
const SyncTypePriceCheck = "price-check"

// floatTolerance decides whether an extracted price equals the last
// observed one. Distinct from Epsilon, which measures catalog discrepancy.
const floatTolerance = 1e-9

// Options configures the worker.
type Options struct {
	// Epsilon is the discrepancy tolerance in currency units.
	Epsilon float64
	// PolitenessDelay is the pause between supplier requests.
	PolitenessDelay time.Duration
}

// Worker reconciles catalog prices against live supplier prices.
type Worker struct {
	store      store.Store
	fetcher    fetcher.Fetcher
	extractor  *extract.Extractor
	dispatcher *notify.Dispatcher
	tracker    *progress.Tracker
	opts       Options
	log        *zap.Logger
	now        func() time.Time
}

func NewWorker(s store.Store, f fetcher.Fetcher, e *extract.Extractor, d *notify.Dispatcher, t *progress.Tracker, opts Options) *Worker {
	if opts.Epsilon == 0 {
		opts.Epsilon = 0.01
	}
	if opts.PolitenessDelay == 0 {
		opts.PolitenessDelay = time.Second
	}
	return &Worker{
		store:      s,
		fetcher:    f,
		extractor:  e,
		dispatcher: d,
		tracker:    t,
		opts:       opts,
		log:        zap.L().With(zap.String("component", "reconcile")),
		now:        time.Now,
	}
}

// CheckAllPrices runs one reconciliation pass over every product with a
// supplier URL. Per-product failures are counted, never fatal; the summary
// is always returned. Only a sync-progress write failure aborts the run,
// since that record is the authoritative external-facing status.
func (w *Worker) CheckAllPrices(ctx context.Context) (*model.RunSummary, error) {
	products, err := w.store.ListProductsWithSupplierURL(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: list products")
	}

	if _, err := w.tracker.Initialize(ctx, SyncTypePriceCheck, len(products)); err != nil {
		return nil, eris.Wrap(err, "reconcile: initialize progress")
	}
	inProgress := model.SyncStatusInProgress
	if _, err := w.tracker.Apply(ctx, SyncTypePriceCheck, progress.Update{Status: &inProgress}); err != nil {
		return nil, eris.Wrap(err, "reconcile: start progress")
	}

	w.log.Info("price check started", zap.Int("products", len(products)))

	summary := &model.RunSummary{}
	discrepanciesFound := 0
	for i := range products {
		p := &products[i]
		summary.Checked++

		if err := w.checkProduct(ctx, p, summary, &discrepanciesFound); err != nil {
			summary.Errors++
			w.log.Warn("product check failed",
				zap.String("product_id", p.ID),
				zap.String("sku", p.SKU),
				zap.Error(err),
			)
		}

		processed := i + 1
		failed := summary.Errors
		success := processed - failed
		if _, err := w.tracker.Apply(ctx, SyncTypePriceCheck, progress.Update{
			ProcessedItems: &processed,
			SuccessItems:   &success,
			FailedItems:    &failed,
			Details:        map[string]any{"current_sku": p.SKU},
		}); err != nil {
			w.failRun(ctx, err)
			return summary, eris.Wrap(err, "reconcile: update progress")
		}

		if i < len(products)-1 {
			if err := w.politenessSleep(ctx); err != nil {
				w.failRun(ctx, err)
				return summary, err
			}
		}
	}

	if err := w.store.RecordRunStats(ctx, w.now().UTC(), summary.Checked, discrepanciesFound); err != nil {
		// Stats are advisory; the run itself succeeded.
		w.log.Warn("failed to record run stats", zap.Error(err))
	}

	if _, err := w.tracker.Complete(ctx, SyncTypePriceCheck, map[string]any{
		"checked": summary.Checked,
		"updated": summary.Updated,
		"errors":  summary.Errors,
	}); err != nil {
		return summary, eris.Wrap(err, "reconcile: complete progress")
	}

	w.log.Info("price check finished",
		zap.Int("checked", summary.Checked),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

// checkProduct fetches, extracts, and applies one product's supplier price.
func (w *Worker) checkProduct(ctx context.Context, p *model.Product, summary *model.RunSummary, discrepanciesFound *int) error {
	page, err := w.fetcher.Fetch(ctx, p.SupplierURL)
	if err != nil {
		return eris.Wrapf(err, "fetch %s", p.SupplierURL)
	}

	candidate, ok := w.extractor.Extract(page.Body, p.SupplierURL)
	if !ok {
		return eris.Errorf("no price found at %s", p.SupplierURL)
	}

	now := w.now().UTC()
	newPrice := candidate.Value

	// Unchanged price: refresh the check timestamp and move on.
	if p.SupplierPrice != nil && math.Abs(*p.SupplierPrice-newPrice) <= floatTolerance {
		if err := w.store.TouchLastChecked(ctx, p.ID, now); err != nil {
			return eris.Wrap(err, "touch last checked")
		}
		return nil
	}

	hasDiscrepancy := math.Abs(newPrice-p.CatalogPrice) > w.opts.Epsilon
	if err := w.store.UpdateSupplierPrice(ctx, p.ID, newPrice, now, hasDiscrepancy); err != nil {
		return eris.Wrap(err, "update supplier price")
	}
	if err := w.store.AppendPriceHistory(ctx, &model.PriceHistory{
		ProductID:     p.ID,
		CatalogPrice:  p.CatalogPrice,
		SupplierPrice: newPrice,
		RecordedAt:    now,
	}); err != nil {
		return eris.Wrap(err, "append price history")
	}
	summary.Updated++

	if hasDiscrepancy {
		*discrepanciesFound++
	}

	// Alert only on the transition into discrepancy; a price that stays
	// wrong does not re-notify on every run.
	if hasDiscrepancy && !p.HasDiscrepancy {
		if _, err := w.dispatcher.NotifyDiscrepancy(ctx, p, newPrice); err != nil {
			w.log.Warn("failed to record notification",
				zap.String("product_id", p.ID),
				zap.Error(err),
			)
		}
	}

	w.log.Debug("supplier price updated",
		zap.String("product_id", p.ID),
		zap.String("sku", p.SKU),
		zap.Float64("supplier_price", newPrice),
		zap.String("source", string(candidate.Source)),
		zap.Int("confidence", candidate.Confidence),
		zap.Bool("has_discrepancy", hasDiscrepancy),
	)

	p.SupplierPrice = &newPrice
	p.LastChecked = &now
	p.HasDiscrepancy = hasDiscrepancy
	return nil
}

func (w *Worker) politenessSleep(ctx context.Context) error {
	t := time.NewTimer(w.opts.PolitenessDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "reconcile: run cancelled")
	case <-t.C:
		return nil
	}
}

func (w *Worker) failRun(ctx context.Context, cause error) {
	// The run context may already be cancelled; the error status must still
	// be persisted.
	ctx = context.WithoutCancel(ctx)
	if _, err := w.tracker.Fail(ctx, SyncTypePriceCheck, cause.Error()); err != nil {
		w.log.Warn("failed to mark run errored", zap.Error(err))
	}
}
