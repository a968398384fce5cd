package models

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a published listing.
type Status string

const (
	StatusActive  Status = "active"
	StatusSold    Status = "sold"
	StatusRemoved Status = "removed"
	StatusUnknown Status = "unknown"
)

// Listing is a persisted vehicle advertisement. Identity is the canonical
// source URL (tracking parameters stripped, host lowercased).
type Listing struct {
	URL           string          `json:"url" db:"url"`
	SourceTag     string          `json:"source_tag" db:"source_tag"`
	Title         string          `json:"title" db:"title"`
	Brand         string          `json:"brand" db:"brand"`
	Model         string          `json:"model" db:"model"`
	Year          *int            `json:"year" db:"year"`
	Price         *float64        `json:"price" db:"price"`
	Currency      string          `json:"currency" db:"currency"`
	Mileage       *int            `json:"mileage" db:"mileage"`
	Description   string          `json:"description" db:"description"`
	Photos        []string        `json:"photos" db:"photos"`
	Status        Status          `json:"status" db:"status"`
	RawData       json.RawMessage `json:"raw_data" db:"raw_data"`
	FirstSeenAt   time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastCheckedAt time.Time       `json:"last_checked_at" db:"last_checked_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// RawListing is the typed record an extractor produces from a navigated
// listing page. Identifier must already be canonical.
type RawListing struct {
	Identifier  string          `json:"identifier"`
	Title       string          `json:"title"`
	Brand       string          `json:"brand"`
	Model       string          `json:"model"`
	Year        *int            `json:"year"`
	Price       *float64        `json:"price"`
	Currency    string          `json:"currency"`
	Mileage     *int            `json:"mileage"`
	Description string          `json:"description"`
	Photos      []string        `json:"photos"`
	Data        json.RawMessage `json:"data"`
}

// IndexEntry is one row of a paginated listing index page.
type IndexEntry struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}
