package stores

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore is the measure catalog backed by an SQLite file. Call Init and
// then Migrate before use.
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite store configuration. Zero pool settings take the
// defaults; ":memory:" always uses a single connection, since every
// connection to it opens a separate database.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) inMemory() bool {
	return c.Path == ":memory:"
}

// pragmas are applied to every connection.
func (c Config) pragmas() []string {
	p := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if !c.inMemory() {
		p = append(p, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	return p
}

func (c Config) dsn() string {
	var b strings.Builder
	b.WriteString(c.Path)
	for i, p := range c.pragmas() {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// NewSQLiteStore validates cfg. No connection is opened until Init.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}

	switch {
	case cfg.inMemory():
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
	default:
		cfg.MaxOpenConns = cmp.Or(cfg.MaxOpenConns, 4)
		cfg.MaxIdleConns = cmp.Or(cfg.MaxIdleConns, 2)
		cfg.ConnMaxLifetime = cmp.Or(cfg.ConnMaxLifetime, 5*time.Minute)
	}
	return &SQLiteStore{config: cfg}, nil
}

// Init opens the catalog and checks the connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.config.dsn())
	if err != nil {
		return fmt.Errorf("failed to open catalog %s: %w", s.config.Path, err)
	}
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to reach catalog %s: %w", s.config.Path, err)
	}
	s.db = db
	return nil
}

// Close releases the connection pool. Closing an unopened store is a no-op.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

var errNotInitialized = errors.New("catalog not initialized")

// Migrate applies the embedded schema migrations. Running it on an
// up-to-date catalog does nothing.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	target, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare catalog for migration: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	switch err := m.Up(); {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return nil
	default:
		return fmt.Errorf("failed to migrate catalog: %w", err)
	}
}

// UpsertMeasure inserts a measure or updates the row with the same path and
// backend. The stored row is written back to m.
func (s *SQLiteStore) UpsertMeasure(ctx context.Context, m *Measure) error {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	query := `
		INSERT INTO measures (id, path, backend, class_name, kind, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path, backend) DO UPDATE SET
			class_name = excluded.class_name,
			kind = excluded.kind,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.Path,
		m.Backend,
		m.ClassName,
		m.Kind,
		m.Checksum,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert measure: %w", err)
	}

	stored, err := s.GetMeasure(ctx, m.Path, m.Backend)
	if err != nil {
		return err
	}
	*m = *stored

	return nil
}

// GetMeasure retrieves the measure catalogued for path on backend.
func (s *SQLiteStore) GetMeasure(ctx context.Context, path, backend string) (*Measure, error) {
	query := `
		SELECT id, path, backend, class_name, kind, checksum, load_count, last_loaded_at, created_at, updated_at
		FROM measures
		WHERE path = ? AND backend = ?
	`

	m, err := scanMeasure(s.db.QueryRowContext(ctx, query, path, backend))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("measure %s (%s): %w", path, backend, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get measure: %w", err)
	}
	return m, nil
}

// ListMeasures lists catalogued measures ordered by path.
func (s *SQLiteStore) ListMeasures(ctx context.Context, filter MeasureFilter) ([]*Measure, error) {
	var (
		where []string
		args  []any
	)
	if filter.Backend != "" {
		where = append(where, "backend = ?")
		args = append(args, filter.Backend)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := `
		SELECT id, path, backend, class_name, kind, checksum, load_count, last_loaded_at, created_at, updated_at
		FROM measures`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY path, backend"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list measures: %w", err)
	}
	defer rows.Close()

	var measures []*Measure
	for rows.Next() {
		m, err := scanMeasure(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measure: %w", err)
		}
		measures = append(measures, m)
	}

	return measures, rows.Err()
}

// DeleteMeasure removes a measure by ID.
func (s *SQLiteStore) DeleteMeasure(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM measures WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete measure: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("measure %s: %w", id, ErrNotFound)
	}

	return nil
}

// RecordLoad appends a load record. A successful load also bumps the load
// count of the matching catalogued measure.
func (s *SQLiteStore) RecordLoad(ctx context.Context, rec *LoadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO measure_loads (id, path, backend, class_name, mode, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Path,
		rec.Backend,
		rec.ClassName,
		rec.Mode,
		rec.Status,
		rec.Error,
		rec.DurationMS,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record load: %w", err)
	}

	if rec.Status == LoadStatusSuccess {
		_, err = tx.ExecContext(ctx, `
			UPDATE measures
			SET load_count = load_count + 1, last_loaded_at = ?
			WHERE path = ? AND backend = ?
		`, rec.CreatedAt, rec.Path, rec.Backend)
		if err != nil {
			return fmt.Errorf("failed to update load count: %w", err)
		}
	}

	return tx.Commit()
}

// ListLoads lists load records newest first, optionally for one path.
func (s *SQLiteStore) ListLoads(ctx context.Context, path *string, limit, offset int) ([]*LoadRecord, error) {
	query := `
		SELECT id, path, backend, class_name, mode, status, error, duration_ms, created_at
		FROM measure_loads`
	var args []any
	if path != nil {
		query += " WHERE path = ?"
		args = append(args, *path)
	}
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loads: %w", err)
	}
	defer rows.Close()

	var records []*LoadRecord
	for rows.Next() {
		rec := &LoadRecord{}
		var errText sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.Path,
			&rec.Backend,
			&rec.ClassName,
			&rec.Mode,
			&rec.Status,
			&errText,
			&rec.DurationMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan load: %w", err)
		}
		if errText.Valid {
			rec.Error = &errText.String
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// HealthCheck pings the catalog.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasure(row rowScanner) (*Measure, error) {
	m := &Measure{}
	var lastLoaded sql.NullTime
	if err := row.Scan(
		&m.ID,
		&m.Path,
		&m.Backend,
		&m.ClassName,
		&m.Kind,
		&m.Checksum,
		&m.LoadCount,
		&lastLoaded,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastLoaded.Valid {
		t := lastLoaded.Time
		m.LastLoadedAt = &t
	}
	return m, nil
}
