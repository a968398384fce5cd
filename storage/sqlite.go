package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"carwatch/models"
)

// SQLiteStore holds operational data: crawl runs, logs, the command queue and
// per-source stats. Catalog data lives in Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY,
		source_tag TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_seen INTEGER,
		listings_new INTEGER,
		marked_removed INTEGER,
		errors_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS crawl_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source_tag TEXT
	);

	CREATE TABLE IF NOT EXISTS source_stats (
		source_tag TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_listings INTEGER,
		active_listings INTEGER,
		removed_listings INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON crawl_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON crawl_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Runs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.CrawlRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO crawl_runs (source_tag, started_at, status, listings_seen, listings_new, marked_removed, errors_count)
		VALUES (?, ?, ?, 0, 0, 0, 0)`,
		run.SourceTag, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.CrawlRun) error {
	_, err := s.db.Exec(`
		UPDATE crawl_runs
		SET finished_at = ?, status = ?, listings_seen = ?, listings_new = ?, marked_removed = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsSeen, run.ListingsNew, run.MarkedRemoved, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) GetLastRunTime(sourceTag string) (time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRow(`
		SELECT MAX(started_at) FROM crawl_runs WHERE source_tag = ?`, sourceTag).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, sourceTag string) error {
	_, err := s.db.Exec(`
		INSERT INTO crawl_logs (run_id, timestamp, level, message, source_tag)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, sourceTag)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	params := &models.CommandParams{}
	if len(cmd.Params) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(cmd.Params, params); err != nil {
		return nil, fmt.Errorf("parse command params: %w", err)
	}
	return params, nil
}

// =============================================================================
// Stats
// =============================================================================

func (s *SQLiteStore) UpdateSourceStats(sourceTag string, run *models.CrawlRun) error {
	_, err := s.db.Exec(`
		INSERT INTO source_stats (source_tag, last_run_at, last_run_status)
		VALUES (?, ?, ?)
		ON CONFLICT(source_tag) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status`,
		sourceTag, run.StartedAt, run.Status)
	return err
}
