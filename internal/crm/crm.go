// Package crm exposes the narrow lookup the filter pipeline needs from the
// CRM: which inbound addresses already have a contact record owned by
// automation (no human assignee) for a given site.
package crm

import (
	"context"
	"time"
)

// Contact is a CRM record matched by email address.
type Contact struct {
	ID        string
	Site      string
	Email     string
	Name      string
	// AssignedTo is empty while the contact is owned by automation.
	AssignedTo string
	CreatedAt  time.Time
}

// Lookup finds CRM contacts by address. Implementations must answer the
// whole batch in one round trip; callers treat errors as "no match".
type Lookup interface {
	// FindUnassignedByAddresses returns contacts for the given site that
	// match one of the addresses and have no human assignee. Keys of the
	// returned map are normalized (lower-case) addresses.
	FindUnassignedByAddresses(ctx context.Context, site string, addresses []string) (map[string]Contact, error)
}

// Disabled is the Lookup for deployments without a CRM database; every
// address reports no match, so no sender gets the known-lead bypass.
type Disabled struct{}

func (Disabled) FindUnassignedByAddresses(ctx context.Context, site string, addresses []string) (map[string]Contact, error) {
	return map[string]Contact{}, nil
}
