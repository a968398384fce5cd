package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carwatch/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{`
		CREATE TABLE IF NOT EXISTS listings (
			url TEXT PRIMARY KEY,
			source_tag TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			year INT,
			price DOUBLE PRECISION,
			currency TEXT NOT NULL DEFAULT '',
			mileage INT,
			description TEXT NOT NULL DEFAULT '',
			photos TEXT[],
			status TEXT NOT NULL DEFAULT 'unknown',
			raw_data JSONB,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_checked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_source_status ON listings (source_tag, status)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_last_checked ON listings (last_checked_at)`,
		`CREATE TABLE IF NOT EXISTS crawl_runs (
			id BIGSERIAL PRIMARY KEY,
			source_tag TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			listings_seen INT NOT NULL DEFAULT 0,
			listings_new INT NOT NULL DEFAULT 0,
			marked_removed INT NOT NULL DEFAULT 0,
			errors_count INT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Listings
// =============================================================================

// UpsertListing writes a listing keyed by its canonical URL. Calling it twice
// with the same identity yields one row, status is overwritten, not merged.
func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	now := time.Now()
	if l.FirstSeenAt.IsZero() {
		l.FirstSeenAt = now
	}
	if l.LastCheckedAt.IsZero() {
		l.LastCheckedAt = now
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}

	query := `
		INSERT INTO listings (
			url, source_tag, title, brand, model, year, price, currency,
			mileage, description, photos, status, raw_data,
			first_seen_at, last_checked_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (url) DO UPDATE SET
			title = COALESCE(NULLIF(EXCLUDED.title, ''), listings.title),
			brand = COALESCE(NULLIF(EXCLUDED.brand, ''), listings.brand),
			model = COALESCE(NULLIF(EXCLUDED.model, ''), listings.model),
			year = COALESCE(EXCLUDED.year, listings.year),
			price = COALESCE(EXCLUDED.price, listings.price),
			currency = COALESCE(NULLIF(EXCLUDED.currency, ''), listings.currency),
			mileage = COALESCE(EXCLUDED.mileage, listings.mileage),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), listings.description),
			photos = COALESCE(EXCLUDED.photos, listings.photos),
			status = EXCLUDED.status,
			raw_data = COALESCE(EXCLUDED.raw_data, listings.raw_data),
			last_checked_at = GREATEST(EXCLUDED.last_checked_at, listings.last_checked_at),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		l.URL, l.SourceTag, l.Title, l.Brand, l.Model, l.Year, l.Price, l.Currency,
		l.Mileage, l.Description, l.Photos, l.Status, l.RawData,
		l.FirstSeenAt, l.LastCheckedAt, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetListing(ctx context.Context, url string) (*models.Listing, error) {
	query := `
		SELECT url, source_tag, title, brand, model, year, price, currency,
			mileage, description, photos, status, raw_data,
			first_seen_at, last_checked_at, created_at, updated_at
		FROM listings WHERE url = $1`

	var l models.Listing
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&l.URL, &l.SourceTag, &l.Title, &l.Brand, &l.Model, &l.Year, &l.Price, &l.Currency,
		&l.Mileage, &l.Description, &l.Photos, &l.Status, &l.RawData,
		&l.FirstSeenAt, &l.LastCheckedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindIdentifiers returns the set of canonical URLs currently persisted for a
// source. Used as the "existing" side of the reconciliation diff.
func (s *PostgresStore) FindIdentifiers(ctx context.Context, sourceTag string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT url FROM listings WHERE source_tag = $1`, sourceTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		ids[url] = struct{}{}
	}
	return ids, rows.Err()
}

// BulkSetStatus overwrites the status of the given listings and refreshes
// last_checked_at. Empty input is a no-op.
func (s *PostgresStore) BulkSetStatus(ctx context.Context, urls []string, status models.Status, checkedAt time.Time) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	query := `
		UPDATE listings
		SET status = $2, last_checked_at = $3, updated_at = NOW()
		WHERE url = ANY($1)`
	tag, err := s.pool.Exec(ctx, query, urls, status, checkedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, url string, status models.Status, checkedAt time.Time) error {
	query := `
		UPDATE listings
		SET status = $2, last_checked_at = $3, updated_at = NOW()
		WHERE url = $1`
	_, err := s.pool.Exec(ctx, query, url, status, checkedAt)
	return err
}

// StaleListings returns active/unknown listings not checked since the cutoff,
// oldest first. Unknown listings come back before active ones so the sweep
// retires indeterminate results quickly.
func (s *PostgresStore) StaleListings(ctx context.Context, olderThan time.Duration, limit int) ([]models.Listing, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		SELECT url, source_tag, title, brand, model, year, price, currency,
			mileage, description, photos, status, raw_data,
			first_seen_at, last_checked_at, created_at, updated_at
		FROM listings
		WHERE status IN ('active', 'unknown') AND last_checked_at < $1
		ORDER BY status = 'unknown' DESC, last_checked_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(
			&l.URL, &l.SourceTag, &l.Title, &l.Brand, &l.Model, &l.Year, &l.Price, &l.Currency,
			&l.Mileage, &l.Description, &l.Photos, &l.Status, &l.RawData,
			&l.FirstSeenAt, &l.LastCheckedAt, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// =============================================================================
// Crawl runs
// =============================================================================

func (s *PostgresStore) CreateCrawlRun(ctx context.Context, r *models.CrawlRun) error {
	query := `
		INSERT INTO crawl_runs (source_tag, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id`
	return s.pool.QueryRow(ctx, query, r.SourceTag, r.StartedAt, r.Status).Scan(&r.ID)
}

func (s *PostgresStore) UpdateCrawlRun(ctx context.Context, r *models.CrawlRun) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $2, status = $3, listings_seen = $4, listings_new = $5,
			marked_removed = $6, errors_count = $7
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.FinishedAt, r.Status, r.ListingsSeen, r.ListingsNew,
		r.MarkedRemoved, r.ErrorsCount,
	)
	return err
}
