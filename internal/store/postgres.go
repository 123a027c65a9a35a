package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricesync/internal/db"
	"github.com/sells-group/pricesync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot reconciliation-path operations.
var preparedStatements = map[string]string{
	"list_products":         `SELECT id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy FROM products WHERE supplier_url != '' ORDER BY id`,
	"update_supplier_price": `UPDATE products SET supplier_price = $1, last_checked = $2, has_discrepancy = $3 WHERE id = $4`,
	"touch_last_checked":    `UPDATE products SET last_checked = $1 WHERE id = $2`,
	"append_price_history":  `INSERT INTO price_history (id, product_id, catalog_price, supplier_price, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
	"latest_sync_progress":  `SELECT id, type, status, total_items, processed_items, success_items, failed_items, percentage, details, started_at, completed_at FROM sync_progress WHERE type = $1 ORDER BY started_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	sku             TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	catalog_price   DOUBLE PRECISION NOT NULL,
	supplier_url    TEXT NOT NULL DEFAULT '',
	supplier_price  DOUBLE PRECISION,
	last_checked    TIMESTAMPTZ,
	has_discrepancy BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS price_history (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL REFERENCES products(id),
	catalog_price  DOUBLE PRECISION NOT NULL,
	supplier_price DOUBLE PRECISION NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_progress (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	total_items     INTEGER NOT NULL DEFAULT 0,
	processed_items INTEGER NOT NULL DEFAULT 0,
	success_items   INTEGER NOT NULL DEFAULT 0,
	failed_items    INTEGER NOT NULL DEFAULT 0,
	percentage      DOUBLE PRECISION NOT NULL DEFAULT 0,
	details         JSONB,
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	message    TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stats (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	last_price_check    TIMESTAMPTZ,
	total_checks        BIGINT NOT NULL DEFAULT 0,
	total_discrepancies BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_products_supplier_url ON products(supplier_url);
CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_progress_type ON sync_progress(type, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_product ON notifications(product_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			sku = excluded.sku,
			title = excluded.title,
			catalog_price = excluded.catalog_price,
			supplier_url = excluded.supplier_url`,
		p.ID, p.SKU, p.Title, p.CatalogPrice, p.SupplierURL, p.SupplierPrice, p.LastChecked, p.HasDiscrepancy,
	)
	return eris.Wrapf(err, "postgres: upsert product %s", p.ID)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy
		 FROM products WHERE id = $1`, id)

	var p model.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Title, &p.CatalogPrice, &p.SupplierURL,
		&p.SupplierPrice, &p.LastChecked, &p.HasDiscrepancy)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get product %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListProductsWithSupplierURL(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy
		 FROM products WHERE supplier_url != '' ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Title, &p.CatalogPrice, &p.SupplierURL,
			&p.SupplierPrice, &p.LastChecked, &p.HasDiscrepancy); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count products")
}

func (s *PostgresStore) UpdateSupplierPrice(ctx context.Context, id string, price float64, checkedAt time.Time, hasDiscrepancy bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET supplier_price = $1, last_checked = $2, has_discrepancy = $3 WHERE id = $4`,
		price, checkedAt, hasDiscrepancy, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update supplier price %s", id)
	}
	return checkRowsAffectedPG(tag, "product", id)
}

func (s *PostgresStore) TouchLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET last_checked = $1 WHERE id = $2`, checkedAt, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch last checked %s", id)
	}
	return checkRowsAffectedPG(tag, "product", id)
}

func (s *PostgresStore) AppendPriceHistory(ctx context.Context, h *model.PriceHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (id, product_id, catalog_price, supplier_price, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.ProductID, h.CatalogPrice, h.SupplierPrice, h.RecordedAt,
	)
	return eris.Wrapf(err, "postgres: append price history for %s", h.ProductID)
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, productID string, limit int) ([]model.PriceHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, catalog_price, supplier_price, recorded_at
		 FROM price_history WHERE product_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list price history for %s", productID)
	}
	defer rows.Close()

	var history []model.PriceHistory
	for rows.Next() {
		var h model.PriceHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.CatalogPrice, &h.SupplierPrice, &h.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price history")
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *PostgresStore) InsertSyncProgress(ctx context.Context, p *model.SyncProgress) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	details, err := marshalDetailsJSONB(p.Details)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_progress (id, type, status, total_items, processed_items, success_items, failed_items, percentage, details, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Type, string(p.Status), p.TotalItems, p.ProcessedItems, p.SuccessItems, p.FailedItems,
		p.Percentage, details, p.StartedAt, p.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: insert sync progress %s", p.Type)
}

func (s *PostgresStore) GetLatestSyncProgress(ctx context.Context, syncType string) (*model.SyncProgress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, status, total_items, processed_items, success_items, failed_items, percentage, details, started_at, completed_at
		 FROM sync_progress WHERE type = $1 ORDER BY started_at DESC LIMIT 1`,
		syncType)

	var p model.SyncProgress
	var status string
	var details []byte
	err := row.Scan(&p.ID, &p.Type, &status, &p.TotalItems, &p.ProcessedItems, &p.SuccessItems,
		&p.FailedItems, &p.Percentage, &details, &p.StartedAt, &p.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get sync progress %s", syncType)
	}
	p.Status = model.SyncStatus(status)
	if len(details) > 0 {
		_ = json.Unmarshal(details, &p.Details)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateSyncProgress(ctx context.Context, p *model.SyncProgress) error {
	details, err := marshalDetailsJSONB(p.Details)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_progress SET status = $1, total_items = $2, processed_items = $3, success_items = $4,
			failed_items = $5, percentage = $6, details = $7, completed_at = $8
		 WHERE id = $9`,
		string(p.Status), p.TotalItems, p.ProcessedItems, p.SuccessItems, p.FailedItems,
		p.Percentage, details, p.CompletedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update sync progress %s", p.ID)
	}
	return checkRowsAffectedPG(tag, "sync progress", p.ID)
}

func (s *PostgresStore) DeleteActiveSyncProgress(ctx context.Context, syncType string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM sync_progress WHERE type = $1 AND status IN ($2, $3)`,
		syncType, string(model.SyncStatusPending), string(model.SyncStatusInProgress),
	)
	return eris.Wrapf(err, "postgres: delete active sync progress %s", syncType)
}

func (s *PostgresStore) CountActiveSyncProgress(ctx context.Context, syncType string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_progress WHERE type = $1 AND status IN ($2, $3)`,
		syncType, string(model.SyncStatusPending), string(model.SyncStatusInProgress),
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count active sync progress %s", syncType)
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, product_id, message, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.ProductID, n.Message, string(n.Status), n.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: create notification for %s", n.ProductID)
}

func (s *PostgresStore) UpdateNotificationStatus(ctx context.Context, id string, status model.NotificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update notification %s", id)
	}
	return checkRowsAffectedPG(tag, "notification", id)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, productID string) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, message, status, created_at
		 FROM notifications WHERE product_id = $1 ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list notifications for %s", productID)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		var status string
		if err := rows.Scan(&n.ID, &n.ProductID, &n.Message, &status, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan notification")
		}
		n.Status = model.NotificationStatus(status)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT last_price_check, total_checks, total_discrepancies FROM stats WHERE id = 1`,
	).Scan(&st.LastPriceCheck, &st.TotalChecks, &st.TotalDiscrepancies)
	if err == pgx.ErrNoRows {
		return &model.Stats{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get stats")
	}
	return &st, nil
}

func (s *PostgresStore) RecordRunStats(ctx context.Context, at time.Time, checked, discrepancies int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stats (id, last_price_check, total_checks, total_discrepancies)
		 VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
			last_price_check = excluded.last_price_check,
			total_checks = stats.total_checks + excluded.total_checks,
			total_discrepancies = stats.total_discrepancies + excluded.total_discrepancies`,
		at, checked, discrepancies,
	)
	return eris.Wrap(err, "postgres: record run stats")
}

func checkRowsAffectedPG(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func marshalDetailsJSONB(details map[string]any) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal details")
	}
	return data, nil
}
