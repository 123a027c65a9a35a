package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricesync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	sku             TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	catalog_price   REAL NOT NULL,
	supplier_url    TEXT NOT NULL DEFAULT '',
	supplier_price  REAL,
	last_checked    DATETIME,
	has_discrepancy INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS price_history (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL REFERENCES products(id),
	catalog_price  REAL NOT NULL,
	supplier_price REAL NOT NULL,
	recorded_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_progress (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	total_items     INTEGER NOT NULL DEFAULT 0,
	processed_items INTEGER NOT NULL DEFAULT 0,
	success_items   INTEGER NOT NULL DEFAULT 0,
	failed_items    INTEGER NOT NULL DEFAULT 0,
	percentage      REAL NOT NULL DEFAULT 0,
	details         TEXT,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	message    TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stats (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	last_price_check    DATETIME,
	total_checks        INTEGER NOT NULL DEFAULT 0,
	total_discrepancies INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_products_supplier_url ON products(supplier_url);
CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_progress_type ON sync_progress(type, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_product ON notifications(product_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			title = excluded.title,
			catalog_price = excluded.catalog_price,
			supplier_url = excluded.supplier_url`,
		p.ID, p.SKU, p.Title, p.CatalogPrice, p.SupplierURL, p.SupplierPrice, p.LastChecked, boolToInt(p.HasDiscrepancy),
	)
	return eris.Wrapf(err, "sqlite: upsert product %s", p.ID)
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy
		 FROM products WHERE id = ?`, id)
	p, err := scanProductSQL(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get product %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProductsWithSupplierURL(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sku, title, catalog_price, supplier_url, supplier_price, last_checked, has_discrepancy
		 FROM products WHERE supplier_url != '' ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProductSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count products")
}

func (s *SQLiteStore) UpdateSupplierPrice(ctx context.Context, id string, price float64, checkedAt time.Time, hasDiscrepancy bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET supplier_price = ?, last_checked = ?, has_discrepancy = ? WHERE id = ?`,
		price, checkedAt, boolToInt(hasDiscrepancy), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update supplier price %s", id)
	}
	return checkRowsAffectedSQL(res, "product", id)
}

func (s *SQLiteStore) TouchLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET last_checked = ? WHERE id = ?`, checkedAt, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch last checked %s", id)
	}
	return checkRowsAffectedSQL(res, "product", id)
}

func (s *SQLiteStore) AppendPriceHistory(ctx context.Context, h *model.PriceHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (id, product_id, catalog_price, supplier_price, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.ProductID, h.CatalogPrice, h.SupplierPrice, h.RecordedAt,
	)
	return eris.Wrapf(err, "sqlite: append price history for %s", h.ProductID)
}

func (s *SQLiteStore) ListPriceHistory(ctx context.Context, productID string, limit int) ([]model.PriceHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, catalog_price, supplier_price, recorded_at
		 FROM price_history WHERE product_id = ? ORDER BY recorded_at DESC LIMIT ?`,
		productID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list price history for %s", productID)
	}
	defer rows.Close()

	var history []model.PriceHistory
	for rows.Next() {
		var h model.PriceHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.CatalogPrice, &h.SupplierPrice, &h.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price history")
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) InsertSyncProgress(ctx context.Context, p *model.SyncProgress) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	details, err := marshalDetails(p.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_progress (id, type, status, total_items, processed_items, success_items, failed_items, percentage, details, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Type, string(p.Status), p.TotalItems, p.ProcessedItems, p.SuccessItems, p.FailedItems,
		p.Percentage, details, p.StartedAt, p.CompletedAt,
	)
	return eris.Wrapf(err, "sqlite: insert sync progress %s", p.Type)
}

func (s *SQLiteStore) GetLatestSyncProgress(ctx context.Context, syncType string) (*model.SyncProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, total_items, processed_items, success_items, failed_items, percentage, details, started_at, completed_at
		 FROM sync_progress WHERE type = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		syncType)

	var p model.SyncProgress
	var status string
	var details sql.NullString
	err := row.Scan(&p.ID, &p.Type, &status, &p.TotalItems, &p.ProcessedItems, &p.SuccessItems,
		&p.FailedItems, &p.Percentage, &details, &p.StartedAt, &p.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sync progress %s", syncType)
	}
	p.Status = model.SyncStatus(status)
	if details.Valid && details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &p.Details)
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateSyncProgress(ctx context.Context, p *model.SyncProgress) error {
	details, err := marshalDetails(p.Details)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_progress SET status = ?, total_items = ?, processed_items = ?, success_items = ?,
			failed_items = ?, percentage = ?, details = ?, completed_at = ?
		 WHERE id = ?`,
		string(p.Status), p.TotalItems, p.ProcessedItems, p.SuccessItems, p.FailedItems,
		p.Percentage, details, p.CompletedAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update sync progress %s", p.ID)
	}
	return checkRowsAffectedSQL(res, "sync progress", p.ID)
}

func (s *SQLiteStore) DeleteActiveSyncProgress(ctx context.Context, syncType string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_progress WHERE type = ? AND status IN (?, ?)`,
		syncType, string(model.SyncStatusPending), string(model.SyncStatusInProgress),
	)
	return eris.Wrapf(err, "sqlite: delete active sync progress %s", syncType)
}

func (s *SQLiteStore) CountActiveSyncProgress(ctx context.Context, syncType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_progress WHERE type = ? AND status IN (?, ?)`,
		syncType, string(model.SyncStatusPending), string(model.SyncStatusInProgress),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count active sync progress %s", syncType)
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, product_id, message, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.ProductID, n.Message, string(n.Status), n.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: create notification for %s", n.ProductID)
}

func (s *SQLiteStore) UpdateNotificationStatus(ctx context.Context, id string, status model.NotificationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update notification %s", id)
	}
	return checkRowsAffectedSQL(res, "notification", id)
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, productID string) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, message, status, created_at
		 FROM notifications WHERE product_id = ? ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list notifications for %s", productID)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		var status string
		if err := rows.Scan(&n.ID, &n.ProductID, &n.Message, &status, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan notification")
		}
		n.Status = model.NotificationStatus(status)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT last_price_check, total_checks, total_discrepancies FROM stats WHERE id = 1`,
	).Scan(&st.LastPriceCheck, &st.TotalChecks, &st.TotalDiscrepancies)
	if err == sql.ErrNoRows {
		return &model.Stats{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get stats")
	}
	return &st, nil
}

func (s *SQLiteStore) RecordRunStats(ctx context.Context, at time.Time, checked, discrepancies int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats (id, last_price_check, total_checks, total_discrepancies)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			last_price_check = excluded.last_price_check,
			total_checks = stats.total_checks + excluded.total_checks,
			total_discrepancies = stats.total_discrepancies + excluded.total_discrepancies`,
		at, checked, discrepancies,
	)
	return eris.Wrap(err, "sqlite: record run stats")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProductSQL(row rowScanner) (*model.Product, error) {
	var p model.Product
	var hasDiscrepancy int
	if err := row.Scan(&p.ID, &p.SKU, &p.Title, &p.CatalogPrice, &p.SupplierURL,
		&p.SupplierPrice, &p.LastChecked, &hasDiscrepancy); err != nil {
		return nil, err
	}
	p.HasDiscrepancy = hasDiscrepancy != 0
	return &p, nil
}

func checkRowsAffectedSQL(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func marshalDetails(details map[string]any) (any, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal details")
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
