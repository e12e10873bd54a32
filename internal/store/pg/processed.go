package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/inboxrelay/internal/store"
)

// PGProcessedStore implements store.ProcessedStore backed by Postgres.
// Idempotency comes from the unique (envelope_id, site, object_type) index
// and ON CONFLICT DO UPDATE, no in-process locking.
type PGProcessedStore struct {
	db *sql.DB
}

func NewPGProcessedStore(db *sql.DB) *PGProcessedStore {
	return &PGProcessedStore{db: db}
}

func (s *PGProcessedStore) MarkProcessed(ctx context.Context, key store.ProcessedKey, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processed_records
		   (id, envelope_id, site, object_type, status, metadata, first_seen_at, last_processed_at, process_count)
		 VALUES ($1, $2, $3, $4, 'processed', $5, $6, $6, 1)
		 ON CONFLICT (envelope_id, site, object_type) DO UPDATE SET
		   process_count     = processed_records.process_count + 1,
		   metadata          = processed_records.metadata || EXCLUDED.metadata,
		   last_processed_at = EXCLUDED.last_processed_at`,
		uuid.Must(uuid.NewV7()), key.EnvelopeID, key.Site, key.ObjectType, metaJSON, now,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *PGProcessedStore) ExistingIDs(ctx context.Context, site, objectType string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, site, objectType)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT envelope_id FROM processed_records
		 WHERE site = $1 AND object_type = $2 AND envelope_id IN (`+strings.Join(placeholders, ", ")+`)`,
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

func (s *PGProcessedStore) Get(ctx context.Context, key store.ProcessedKey) (*store.ProcessedRecord, error) {
	var rec store.ProcessedRecord
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope_id, site, object_type, status, metadata, first_seen_at, last_processed_at, process_count
		 FROM processed_records
		 WHERE envelope_id = $1 AND site = $2 AND object_type = $3`,
		key.EnvelopeID, key.Site, key.ObjectType,
	).Scan(&rec.EnvelopeID, &rec.Site, &rec.ObjectType, &rec.Status, &metaJSON,
		&rec.FirstSeenAt, &rec.LastProcessedAt, &rec.ProcessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed record: %w", err)
	}
	if len(metaJSON) > 0 {
		json.Unmarshal(metaJSON, &rec.Metadata)
	}
	return &rec, nil
}
