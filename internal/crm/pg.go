package crm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PGLookup implements Lookup against the crm_contacts table.
type PGLookup struct {
	db *sql.DB
}

func NewPGLookup(db *sql.DB) *PGLookup {
	return &PGLookup{db: db}
}

func (l *PGLookup) FindUnassignedByAddresses(ctx context.Context, site string, addresses []string) (map[string]Contact, error) {
	out := make(map[string]Contact, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(addresses))
	args := make([]interface{}, 0, len(addresses)+1)
	args = append(args, site)
	for i, addr := range addresses {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, strings.ToLower(strings.TrimSpace(addr)))
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, site, email, name, COALESCE(assigned_to, ''), created_at
		 FROM crm_contacts
		 WHERE site = $1
		   AND (assigned_to IS NULL OR assigned_to = '')
		   AND lower(email) IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query crm contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contact
		var createdAt time.Time
		if err := rows.Scan(&c.ID, &c.Site, &c.Email, &c.Name, &c.AssignedTo, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = createdAt
		out[strings.ToLower(c.Email)] = c
	}
	return out, rows.Err()
}
