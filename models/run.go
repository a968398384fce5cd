package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type CrawlRun struct {
	ID            int64      `json:"id" db:"id"`
	SourceTag     string     `json:"source_tag" db:"source_tag"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsSeen  int        `json:"listings_seen" db:"listings_seen"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	MarkedRemoved int        `json:"marked_removed" db:"marked_removed"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

type SourceStats struct {
	SourceTag       string     `json:"source_tag" db:"source_tag"`
	LastRunAt       *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus   string     `json:"last_run_status" db:"last_run_status"`
	TotalListings   int        `json:"total_listings" db:"total_listings"`
	ActiveListings  int        `json:"active_listings" db:"active_listings"`
	RemovedListings int        `json:"removed_listings" db:"removed_listings"`
}
