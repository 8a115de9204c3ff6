// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides cursor and embedding persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/clawswarm/internal/message"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS consumer_cursors (
			consumer_id TEXT PRIMARY KEY,
			cursor      TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memory_embeddings (
			"offset" INTEGER PRIMARY KEY,
			dims   INTEGER NOT NULL,
			vector BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_turns (
			turn_id     TEXT PRIMARY KEY,
			consumer_id TEXT NOT NULL,
			message_key TEXT NOT NULL,
			platform    TEXT NOT NULL,
			channel_id  TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			detail      TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,

			CHECK (outcome IN ('replied', 'skipped', 'failed', 'timeout'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_created ON agent_turns(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_turns_consumer ON agent_turns(consumer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('agent_turns') WHERE name = 'duration_ms'`,
			apply:  `ALTER TABLE agent_turns ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0`,
			column: "duration_ms",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadCursor returns the saved cursor for a consumer.
func (s *SQLiteStore) LoadCursor(ctx context.Context, consumerID string) (message.Cursor, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM consumer_cursors WHERE consumer_id = ?`, consumerID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Cursor{}, ErrNotFound
	}
	if err != nil {
		return message.Cursor{}, fmt.Errorf("querying cursor: %w", err)
	}

	var c message.Cursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return message.Cursor{}, fmt.Errorf("decoding cursor for %s: %w", consumerID, err)
	}
	return c, nil
}

// SaveCursor upserts a consumer's cursor.
func (s *SQLiteStore) SaveCursor(ctx context.Context, consumerID string, cursor message.Cursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encoding cursor: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consumer_cursors (consumer_id, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(consumer_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, consumerID, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// PutEmbedding upserts the vector for a memory log offset.
func (s *SQLiteStore) PutEmbedding(ctx context.Context, offset int, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings ("offset", dims, vector)
		VALUES (?, ?, ?)
		ON CONFLICT("offset") DO UPDATE SET dims = excluded.dims, vector = excluded.vector
	`, offset, len(vector), encodeVector(vector))
	if err != nil {
		return fmt.Errorf("saving embedding %d: %w", offset, err)
	}
	return nil
}

// Embeddings loads every stored vector.
func (s *SQLiteStore) Embeddings(ctx context.Context) (map[int][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT "offset", dims, vector FROM memory_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]float32)
	for rows.Next() {
		var (
			offset, dims int
			blob         []byte
		)
		if err := rows.Scan(&offset, &dims, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		vec, err := decodeVector(blob, dims)
		if err != nil {
			s.logger.Warn("skipping corrupt embedding", "offset", offset, "error", err)
			continue
		}
		out[offset] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}
	return out, nil
}

// ClearEmbeddings drops the whole index.
func (s *SQLiteStore) ClearEmbeddings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	return nil
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dims int) ([]float32, error) {
	if len(buf) != 4*dims {
		return nil, fmt.Errorf("blob has %d bytes, want %d", len(buf), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
