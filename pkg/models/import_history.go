package models

import (
	"time"

	"github.com/lib/pq"
)

// Import run types
const (
	ImportTypeVehicles = "vehicles"
	ImportTypeParts    = "parts"
	ImportTypeAll      = "all"
)

// Import run statuses
const (
	ImportStatusRunning   = "running"
	ImportStatusCompleted = "completed"
	ImportStatusPartial   = "partial"
	ImportStatusFailed    = "failed"
)

// MaxImportErrors caps the errors column so a pathological feed cannot grow
// a row without bound.
const MaxImportErrors = 100

// ImportHistory is the durable progress record for one import run. It is
// created in running state and mutated after every page so a crash mid-run
// leaves accurate partial counts behind.
type ImportHistory struct {
	ID              int            `json:"id" db:"id"`
	Type            string         `json:"type" db:"type"`
	Status          string         `json:"status" db:"status"`
	Progress        int            `json:"progress" db:"progress"`
	ProcessingItem  string         `json:"processing_item" db:"processing_item"`
	TotalItems      int            `json:"total_items" db:"total_items"`
	ProcessedItems  int            `json:"processed_items" db:"processed_items"`
	NewItems        int            `json:"new_items" db:"new_items"`
	UpdatedItems    int            `json:"updated_items" db:"updated_items"`
	ItemsDeactivated int           `json:"items_deactivated" db:"items_deactivated"`
	Errors          pq.StringArray `json:"errors" db:"errors"`
	ErrorCount      int            `json:"error_count" db:"error_count"`
	IsFullImport    bool           `json:"is_full_import" db:"is_full_import"`
	CanResume       bool           `json:"can_resume" db:"can_resume"`
	LastID          int            `json:"last_id" db:"last_id"`
	StartTime       time.Time      `json:"start_time" db:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty" db:"end_time"`
	LastUpdated     time.Time      `json:"last_updated" db:"last_updated"`
}

// ImportHistoryListResponse is the response for listing import runs
type ImportHistoryListResponse struct {
	Items      []ImportHistory `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}

// ImportProgress carries the per-page counter deltas the orchestrator folds
// into the ImportHistory row.
type ImportProgress struct {
	TotalItems     int
	ProcessedItems int
	NewItems       int
	UpdatedItems   int
	Errors         []string
	LastID         int
	ProcessingItem string
}

// StartImportRequest is the admin request to trigger an import run.
type StartImportRequest struct {
	FullImport bool       `json:"full_import"`
	Since      *time.Time `json:"since,omitempty"`
}
