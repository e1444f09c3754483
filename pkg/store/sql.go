package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/illmade-knight/go-annotationcache/pkg/transform"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", d)
	}
}

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	Dialect Dialect `yaml:"dialect"`
	DSN     string  `yaml:"dsn"`
	Table   string  `yaml:"table"`
}

const defaultTable = "documents"

// SQLStore persists documents as JSON payloads in a single table keyed by
// (collection, id).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	logger  zerolog.Logger
}

var sqlOpen = sql.Open

// NewSQLStore opens the database, verifies the connection and ensures the
// document table exists.
func NewSQLStore(ctx context.Context, cfg SQLConfig, logger zerolog.Logger) (*SQLStore, error) {
	driver, err := cfg.Dialect.driver()
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sqlOpen(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		// Every ":memory:" connection is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Dialect, err)
	}

	s := &SQLStore{
		db:      db,
		dialect: cfg.Dialect,
		table:   table,
		logger:  logger.With().Str("component", "SQLStore").Str("dialect", string(cfg.Dialect)).Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info().Str("table", table).Msg("SQL document store ready.")
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	payloadType := "TEXT"
	if s.dialect == DialectPostgres {
		payloadType = "JSONB"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	payload %s NOT NULL,
	PRIMARY KEY (collection, id)
)`, s.table, payloadType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// sqlLookupChunk bounds the ids bound into one IN clause. SQLite allows 32766
// variables per statement and Postgres 65535.
const sqlLookupChunk = 500

// FindByIDs retrieves the stored documents for ids, querying at most
// sqlLookupChunk ids at a time.
func (s *SQLStore) FindByIDs(ctx context.Context, collection string, ids []string) ([]types.Document, error) {
	ids = dedupe(ids)
	if s.dialect == DialectPostgres {
		// Postgres rejects text parameters that are not valid UTF-8.
		valid := ids[:0]
		for _, id := range ids {
			if utf8.ValidString(id) {
				valid = append(valid, id)
			}
		}
		ids = valid
	}
	var out []types.Document
	for start := 0; start < len(ids); start += sqlLookupChunk {
		end := min(start+sqlLookupChunk, len(ids))
		docs, err := s.findChunk(ctx, collection, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (s *SQLStore) findChunk(ctx context.Context, collection string, ids []string) ([]types.Document, error) {
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		marks[i] = s.dialect.placeholder(i + 2)
	}
	query := fmt.Sprintf("SELECT payload FROM %s WHERE collection = %s AND id IN (%s)",
		s.table, s.dialect.placeholder(1), strings.Join(marks, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []types.Document
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs, err := transform.JSONArray(payload)
		if err != nil {
			return nil, fmt.Errorf("decode stored %s document: %w", collection, err)
		}
		out = append(out, docs...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

// UpsertMany writes docs in one transaction.
func (s *SQLStore) UpsertMany(ctx context.Context, collection string, docs []types.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := requireIDs(docs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert %s: %w", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (collection, id, payload) VALUES (%s, %s, %s) ON CONFLICT (collection, id) DO UPDATE SET payload = excluded.payload",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3)))
	if err != nil {
		return fmt.Errorf("prepare upsert %s: %w", collection, err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", collection, doc.ID(), err)
		}
		if _, err := stmt.ExecContext(ctx, collection, doc.ID(), string(payload)); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", collection, doc.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert %s: %w", collection, err)
	}
	s.logger.Debug().Str("collection", collection).Int("count", len(docs)).Msg("Upserted documents.")
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	s.logger.Info().Msg("Closing SQL document store...")
	return s.db.Close()
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
