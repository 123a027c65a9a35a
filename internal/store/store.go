// Package store persists products, price history, sync progress and
// notifications behind a backend-neutral interface.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricesync/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the reconciliation engine.
// History writes are append-only and stats writes are single-row upserts so
// overlapping runs never corrupt shared state.
type Store interface {
	// Products
	UpsertProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProductsWithSupplierURL(ctx context.Context) ([]model.Product, error)
	CountProducts(ctx context.Context) (int, error)
	UpdateSupplierPrice(ctx context.Context, id string, price float64, checkedAt time.Time, hasDiscrepancy bool) error
	TouchLastChecked(ctx context.Context, id string, checkedAt time.Time) error

	// Price history (append-only, one row per observed change)
	AppendPriceHistory(ctx context.Context, h *model.PriceHistory) error
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]model.PriceHistory, error)

	// Sync progress
	InsertSyncProgress(ctx context.Context, p *model.SyncProgress) error
	GetLatestSyncProgress(ctx context.Context, syncType string) (*model.SyncProgress, error)
	UpdateSyncProgress(ctx context.Context, p *model.SyncProgress) error
	DeleteActiveSyncProgress(ctx context.Context, syncType string) error
	CountActiveSyncProgress(ctx context.Context, syncType string) (int, error)

	// Notifications
	CreateNotification(ctx context.Context, n *model.Notification) error
	UpdateNotificationStatus(ctx context.Context, id string, status model.NotificationStatus) error
	ListNotifications(ctx context.Context, productID string) ([]model.Notification, error)

	// Aggregate stats
	GetStats(ctx context.Context) (*model.Stats, error)
	RecordRunStats(ctx context.Context, at time.Time, checked, discrepancies int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
