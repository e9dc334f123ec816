package models

import "time"

// SyncControl keeps per-type incremental sync state so scheduled runs only
// ask the supplier for changes since the previous run.
type SyncControl struct {
	ID               int        `json:"id" db:"id"`
	Type             string     `json:"type" db:"type"`
	LastSyncDate     *time.Time `json:"last_sync_date,omitempty" db:"last_sync_date"`
	LastID           int        `json:"last_id" db:"last_id"`
	RecordsProcessed int        `json:"records_processed" db:"records_processed"`
	Active           bool       `json:"active" db:"active"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
