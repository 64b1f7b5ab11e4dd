package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed transcript store.
func NewSQLite(dbPath string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordExchange appends one turn to the transcript.
func (s *SQLiteStore) RecordExchange(ctx context.Context, sessionID, role, content string, sources []api.Source) error {
	var sourcesJSON sql.NullString
	if len(sources) > 0 {
		data, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		sourcesJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
	INSERT INTO exchanges (id, session_id, role, content, sources_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), sessionID, role, content, sourcesJSON, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// ListExchanges returns exchanges for a session, oldest first.
func (s *SQLiteStore) ListExchanges(ctx context.Context, sessionID string, limit int) ([]*Exchange, error) {
	query := `
		SELECT id, session_id, role, content, sources_json, created_at
		FROM exchanges WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*Exchange
	for rows.Next() {
		var x Exchange
		var sourcesJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&x.ID, &x.SessionID, &x.Role, &x.Content, &sourcesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}
		if sourcesJSON.Valid {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &x.Sources); err != nil {
				return nil, fmt.Errorf("decode sources: %w", err)
			}
		}
		x.CreatedAt = time.Unix(createdAt, 0)
		exchanges = append(exchanges, &x)
	}
	return exchanges, rows.Err()
}

// DeleteConversation removes all exchanges for a session.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
