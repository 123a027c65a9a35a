// Package progress tracks the lifecycle of long-running sync operations.
// Each sync type (price-check, catalog-import, ...) has at most one active
// record; finished records stay behind as an audit trail.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricesync/internal/model"
	"github.com/sells-group/pricesync/internal/store"
)

// ErrTerminal is returned when an update targets a record that already
// reached complete or error. Terminal records are immutable.
var ErrTerminal = eris.New("progress: record is terminal")

// Update carries the fields an Update call wants to change. Nil fields are
// left untouched; Details entries are merged key-by-key.
type Update struct {
	Status         *model.SyncStatus
	TotalItems     *int
	ProcessedItems *int
	SuccessItems   *int
	FailedItems    *int
	Details        map[string]any
}

// Tracker manages sync progress records on top of a Store. Mutations
// read-before-write, so they are serialized per process; this keeps the
// at-most-one-active and monotonic-counter invariants under concurrent
// callers.
type Tracker struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time

	mu sync.Mutex
}

func NewTracker(s store.Store) *Tracker {
	return &Tracker{
		store: s,
		log:   zap.L().With(zap.String("component", "progress")),
		now:   time.Now,
	}
}

// Initialize starts a fresh pending record for the sync type. Any active
// (pending or in-progress) records of the same type are removed first, so a
// crashed run never blocks the next one.
func (t *Tracker) Initialize(ctx context.Context, syncType string, totalItems int) (*model.SyncProgress, error) {
	if syncType == "" {
		return nil, eris.New("progress: sync type is required")
	}
	if totalItems < 0 {
		totalItems = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.DeleteActiveSyncProgress(ctx, syncType); err != nil {
		return nil, eris.Wrapf(err, "progress: clear active %s", syncType)
	}

	p := &model.SyncProgress{
		Type:       syncType,
		Status:     model.SyncStatusPending,
		TotalItems: totalItems,
		StartedAt:  t.now().UTC(),
	}
	if err := t.store.InsertSyncProgress(ctx, p); err != nil {
		return nil, eris.Wrapf(err, "progress: initialize %s", syncType)
	}

	t.log.Info("sync initialized",
		zap.String("type", syncType),
		zap.Int("total_items", totalItems),
	)
	return p, nil
}

// Get returns the most recent record for the sync type.
func (t *Tracker) Get(ctx context.Context, syncType string) (*model.SyncProgress, error) {
	return t.store.GetLatestSyncProgress(ctx, syncType)
}

// Apply updates the latest record for the sync type. It never creates a
// record: updating a type with no record returns store.ErrNotFound, and
// updating a terminal record returns ErrTerminal. Reaching a terminal status
// stamps CompletedAt exactly once.
func (t *Tracker) Apply(ctx context.Context, syncType string, u Update) (*model.SyncProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.store.GetLatestSyncProgress(ctx, syncType)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, eris.Wrapf(ErrTerminal, "%s (%s)", syncType, p.Status)
	}

	if u.Status != nil {
		if err := validTransition(p.Status, *u.Status); err != nil {
			return nil, err
		}
		p.Status = *u.Status
	}
	if u.TotalItems != nil {
		p.TotalItems = *u.TotalItems
	}
	if u.ProcessedItems != nil {
		p.ProcessedItems = *u.ProcessedItems
	}
	if u.SuccessItems != nil {
		p.SuccessItems = *u.SuccessItems
	}
	if u.FailedItems != nil {
		p.FailedItems = *u.FailedItems
	}
	if len(u.Details) > 0 {
		if p.Details == nil {
			p.Details = make(map[string]any, len(u.Details))
		}
		for k, v := range u.Details {
			p.Details[k] = v
		}
	}

	p.Percentage = percentage(p.ProcessedItems, p.TotalItems)
	if p.Status.IsTerminal() && p.CompletedAt == nil {
		now := t.now().UTC()
		p.CompletedAt = &now
	}

	if err := t.store.UpdateSyncProgress(ctx, p); err != nil {
		return nil, eris.Wrapf(err, "progress: apply %s", syncType)
	}
	return p, nil
}

// Complete marks the sync finished.
func (t *Tracker) Complete(ctx context.Context, syncType string, details map[string]any) (*model.SyncProgress, error) {
	status := model.SyncStatusComplete
	return t.Apply(ctx, syncType, Update{Status: &status, Details: details})
}

// Fail marks the sync errored, recording the reason in details.
func (t *Tracker) Fail(ctx context.Context, syncType, reason string) (*model.SyncProgress, error) {
	status := model.SyncStatusError
	details := map[string]any{"error": reason}
	return t.Apply(ctx, syncType, Update{Status: &status, Details: details})
}

func validTransition(from, to model.SyncStatus) error {
	switch from {
	case model.SyncStatusPending:
		switch to {
		case model.SyncStatusPending, model.SyncStatusInProgress, model.SyncStatusComplete, model.SyncStatusError:
			return nil
		}
	case model.SyncStatusInProgress:
		switch to {
		case model.SyncStatusInProgress, model.SyncStatusComplete, model.SyncStatusError:
			return nil
		}
	}
	return eris.Errorf("progress: invalid transition %s -> %s", from, to)
}

func percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
