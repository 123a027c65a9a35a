// Package notify delivers discrepancy alerts. Delivery is fire-and-forget:
// a failed webhook marks the notification failed and is logged, but never
// fails the reconciliation run that produced it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricesync/internal/model"
	"github.com/sells-group/pricesync/internal/store"
)

// Options configures the dispatcher.
type Options struct {
	// WebhookURL receives a JSON payload per notification. Empty disables
	// delivery; notifications are still recorded and logged.
	WebhookURL string
	Timeout    time.Duration
}

// Dispatcher records and delivers notifications.
type Dispatcher struct {
	store  store.Store
	client *http.Client
	opts   Options
	log    *zap.Logger
	now    func() time.Time
}

func NewDispatcher(s store.Store, opts Options) *Dispatcher {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:  s,
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		log:    zap.L().With(zap.String("component", "notify")),
		now:    time.Now,
	}
}

// webhookPayload is the body POSTed to the configured webhook.
type webhookPayload struct {
	ProductID     string  `json:"product_id"`
	SKU           string  `json:"sku"`
	Title         string  `json:"title"`
	CatalogPrice  float64 `json:"catalog_price"`
	SupplierPrice float64 `json:"supplier_price"`
	Message       string  `json:"message"`
	OccurredAt    string  `json:"occurred_at"`
}

// DiscrepancyMessage formats the human-readable alert text.
func DiscrepancyMessage(p *model.Product, supplierPrice float64) string {
	return fmt.Sprintf("price discrepancy for %s (%s): catalog %.2f, supplier %.2f",
		p.SKU, p.Title, p.CatalogPrice, supplierPrice)
}

// NotifyDiscrepancy records a notification for the product and attempts
// webhook delivery. The returned error covers persistence only; delivery
// failures are swallowed after marking the record failed.
func (d *Dispatcher) NotifyDiscrepancy(ctx context.Context, p *model.Product, supplierPrice float64) (*model.Notification, error) {
	n := &model.Notification{
		ProductID: p.ID,
		Message:   DiscrepancyMessage(p, supplierPrice),
		Status:    model.NotificationPending,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, eris.Wrapf(err, "notify: record notification for %s", p.ID)
	}

	status := model.NotificationSent
	if err := d.deliver(ctx, p, supplierPrice, n.Message); err != nil {
		status = model.NotificationFailed
		d.log.Warn("notification delivery failed",
			zap.String("product_id", p.ID),
			zap.String("sku", p.SKU),
			zap.Error(err),
		)
	} else {
		d.log.Info("notification sent",
			zap.String("product_id", p.ID),
			zap.String("sku", p.SKU),
			zap.Float64("catalog_price", p.CatalogPrice),
			zap.Float64("supplier_price", supplierPrice),
		)
	}

	if err := d.store.UpdateNotificationStatus(ctx, n.ID, status); err != nil {
		return nil, eris.Wrapf(err, "notify: update notification %s", n.ID)
	}
	n.Status = status
	return n, nil
}

func (d *Dispatcher) deliver(ctx context.Context, p *model.Product, supplierPrice float64, message string) error {
	if d.opts.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		ProductID:     p.ID,
		SKU:           p.SKU,
		Title:         p.Title,
		CatalogPrice:  p.CatalogPrice,
		SupplierPrice: supplierPrice,
		Message:       message,
		OccurredAt:    d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
