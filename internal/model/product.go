package model

import "time"

// Product is a catalog item whose supplier price is reconciled.
type Product struct {
	ID             string     `json:"id"`
	SKU            string     `json:"sku"`
	Title          string     `json:"title"`
	CatalogPrice   float64    `json:"catalog_price"`
	SupplierURL    string     `json:"supplier_url,omitempty"`
	SupplierPrice  *float64   `json:"supplier_price,omitempty"`
	LastChecked    *time.Time `json:"last_checked,omitempty"`
	HasDiscrepancy bool       `json:"has_discrepancy"`
}

// PriceHistory is one observed price change for a product. Rows are
// append-only and never updated or deleted.
type PriceHistory struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	CatalogPrice  float64   `json:"catalog_price"`
	SupplierPrice float64   `json:"supplier_price"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// RunSummary holds the outcome of one reconciliation run.
type RunSummary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// Stats are cumulative reconciliation counters, kept in a single upserted row.
type Stats struct {
	LastPriceCheck     *time.Time `json:"last_price_check,omitempty"`
	TotalChecks        int64      `json:"total_checks"`
	TotalDiscrepancies int64      `json:"total_discrepancies"`
}
