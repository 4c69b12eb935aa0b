package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/darc/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "darc.db"

// Store records visit outcomes in SQLite.
//
// A single connection is used, so writes from concurrent workers are
// serialized by the database/sql pool.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the store in dbDir.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	db, err := sql.Open("sqlite", dbPath+"?mode="+mode+"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	-- One row per visit, successful or not
	CREATE TABLE IF NOT EXISTS visits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		final_url TEXT NOT NULL DEFAULT '',
		host TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		content_ref TEXT NOT NULL DEFAULT '',
		headers TEXT NOT NULL DEFAULT '{}',
		rendered INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visits_url ON visits(url);
	CREATE INDEX IF NOT EXISTS idx_visits_host ON visits(host);
	CREATE INDEX IF NOT EXISTS idx_visits_kind ON visits(kind);

	-- Outbound links found during a visit
	CREATE TABLE IF NOT EXISTS links (
		visit_id INTEGER NOT NULL REFERENCES visits(id),
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		PRIMARY KEY (visit_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_links_url ON links(url);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InsertVisit appends a visit and its links in one transaction and returns
// the row id of the visit.
func (s *Store) InsertVisit(ctx context.Context, v *model.VisitOutcome) (int64, error) {
	if v == nil {
		return 0, ErrNilVisit
	}
	headers := v.Headers
	if headers == nil {
		headers = map[string][]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize headers: %w", err)
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
	INSERT INTO visits (url, final_url, host, seq, kind, status_code, content_type, content_ref, headers, rendered, error, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.URL,
		v.FinalURL,
		model.Host(v.URL),
		int64(v.Seq), //nolint:gosec // sequence numbers stay far below MaxInt64
		string(v.Kind),
		v.StatusCode,
		v.ContentType,
		v.ContentRef,
		string(headersJSON),
		v.Rendered,
		v.Error,
		ts.UTC().Format(timestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert visit: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read visit id: %w", err)
	}

	if len(v.Links) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO links (visit_id, position, url) VALUES (?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("failed to prepare link insert: %w", err)
		}
		defer stmt.Close()
		for i, link := range v.Links {
			if _, err := stmt.ExecContext(ctx, id, i, link); err != nil {
				return 0, fmt.Errorf("failed to insert link: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit visit: %w", err)
	}
	return id, nil
}

// Exists reports whether at least one ok outcome is recorded for url.
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT 1 FROM visits WHERE url = ? AND kind = ? LIMIT 1)`,
		url, string(model.OutcomeOK),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check visit: %w", err)
	}
	return n > 0, nil
}

const visitColumns = `id, url, final_url, seq, kind, status_code, content_type, content_ref, headers, rendered, error, timestamp`

// LatestVisit returns the most recent visit of url with its links.
func (s *Store) LatestVisit(ctx context.Context, url string) (*model.VisitOutcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE url = ? ORDER BY id DESC LIMIT 1`, url)
	id, v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVisitNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	if v.Links, err = s.links(ctx, id); err != nil {
		return nil, err
	}
	return v, nil
}

// ListVisits returns every visit of url, oldest first, without links.
func (s *Store) ListVisits(ctx context.Context, url string) ([]*model.VisitOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE url = ? ORDER BY id`, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	var visits []*model.VisitOutcome
	for rows.Next() {
		_, v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func (s *Store) links(ctx context.Context, visitID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM links WHERE visit_id = ? ORDER BY position`, visitID)
	if err != nil {
		return nil, fmt.Errorf("failed to get links: %w", err)
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (int64, *model.VisitOutcome, error) {
	var (
		id          int64
		seq         int64
		kind        string
		headersJSON string
		timestamp   string
		v           model.VisitOutcome
	)
	err := row.Scan(&id, &v.URL, &v.FinalURL, &seq, &kind, &v.StatusCode, &v.ContentType,
		&v.ContentRef, &headersJSON, &v.Rendered, &v.Error, &timestamp)
	if err != nil {
		return 0, nil, err
	}
	v.Seq = uint64(seq) //nolint:gosec // stored from a uint64
	v.Kind = model.OutcomeKind(kind)
	v.Timestamp = parseTimestamp(timestamp)
	if headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &v.Headers); err != nil {
			return 0, nil, fmt.Errorf("failed to parse headers: %w", err)
		}
	}
	return id, &v, nil
}

// timestampLayout has a fixed width so that stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timestampFormats contains the timestamp formats that may be stored.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp parses a stored timestamp, returning zero time if no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
