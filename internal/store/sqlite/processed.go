// Package sqlite provides the standalone-mode ProcessedStore: a single
// local database file (or :memory: in tests), no Postgres required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/inboxrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_records (
	id                TEXT PRIMARY KEY,
	envelope_id       TEXT NOT NULL,
	site              TEXT NOT NULL,
	object_type       TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'processed',
	metadata          TEXT NOT NULL DEFAULT '{}',
	first_seen_at     TEXT NOT NULL,
	last_processed_at TEXT NOT NULL,
	process_count     INTEGER NOT NULL DEFAULT 1,
	UNIQUE (envelope_id, site, object_type)
);
`

// SQLiteProcessedStore implements store.ProcessedStore on a local SQLite
// database. Same upsert semantics as the Postgres store.
type SQLiteProcessedStore struct {
	db *sql.DB
}

// Open opens (and initializes) a SQLite-backed processed store.
func Open(path string) (*SQLiteProcessedStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; the ingest flow is single-writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteProcessedStore{db: db}, nil
}

func (s *SQLiteProcessedStore) Close() error { return s.db.Close() }

func (s *SQLiteProcessedStore) MarkProcessed(ctx context.Context, key store.ProcessedKey, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processed_records
		   (id, envelope_id, site, object_type, status, metadata, first_seen_at, last_processed_at, process_count)
		 VALUES (?, ?, ?, ?, 'processed', ?, ?, ?, 1)
		 ON CONFLICT (envelope_id, site, object_type) DO UPDATE SET
		   process_count     = process_count + 1,
		   metadata          = json_patch(metadata, excluded.metadata),
		   last_processed_at = excluded.last_processed_at`,
		uuid.Must(uuid.NewV7()).String(), key.EnvelopeID, key.Site, key.ObjectType, string(metaJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *SQLiteProcessedStore) ExistingIDs(ctx context.Context, site, objectType string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, site, objectType)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id FROM processed_records
		 WHERE site = ? AND object_type = ? AND envelope_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *SQLiteProcessedStore) Get(ctx context.Context, key store.ProcessedKey) (*store.ProcessedRecord, error) {
	var rec store.ProcessedRecord
	var metaJSON string
	var firstSeen, lastProcessed string
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope_id, site, object_type, status, metadata, first_seen_at, last_processed_at, process_count
		 FROM processed_records
		 WHERE envelope_id = ? AND site = ? AND object_type = ?`,
		key.EnvelopeID, key.Site, key.ObjectType,
	).Scan(&rec.EnvelopeID, &rec.Site, &rec.ObjectType, &rec.Status, &metaJSON,
		&firstSeen, &lastProcessed, &rec.ProcessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed record: %w", err)
	}

	json.Unmarshal([]byte(metaJSON), &rec.Metadata)
	rec.FirstSeenAt, _ = time.Parse(time.RFC3339Nano, firstSeen)
	rec.LastProcessedAt, _ = time.Parse(time.RFC3339Nano, lastProcessed)
	return &rec, nil
}
