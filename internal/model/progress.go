package model

import "time"

// SyncStatus represents the current state of a sync progress record.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in-progress"
	SyncStatusComplete   SyncStatus = "complete"
	SyncStatusError      SyncStatus = "error"
)

// IsTerminal reports whether the status permits no further transitions.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusComplete || s == SyncStatusError
}

// SyncProgress tracks a long-running batch operation. At most one
// non-terminal record exists per Type; terminal records are immutable.
type SyncProgress struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Status         SyncStatus     `json:"status"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	SuccessItems   int            `json:"success_items"`
	FailedItems    int            `json:"failed_items"`
	Percentage     float64        `json:"percentage"`
	Details        map[string]any `json:"details,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}
