// Package approvals caches which scenarios the user approved, with the approval hash
// returned by the backend. The cache is best effort: failures are logged and counted,
// never returned, and a missing or unreadable cache reads as empty.
package approvals

import (
	"context"
	"time"
)

// StorageKey is the key the approval records are kept under
const StorageKey = "riskstream:scenario_approvals"

// Record is one approved scenario
type Record struct {
	ApprovalHash string    `json:"approvalHash"`
	ApprovedAt   time.Time `json:"approvedAt"`
}

// Records maps scenario id to its approval
type Records map[string]Record

// Store loads and saves the full approval map
type Store interface {
	Load(ctx context.Context) Records
	Save(ctx context.Context, records Records)
}

// Remember records one approval and persists the updated map
func Remember(ctx context.Context, store Store, scenarioID, approvalHash string, now time.Time) Records {
	current := store.Load(ctx)

	next := make(Records, len(current)+1)
	for id, r := range current {
		next[id] = r
	}
	next[scenarioID] = Record{
		ApprovalHash: approvalHash,
		ApprovedAt:   now.UTC(),
	}

	store.Save(ctx, next)
	return next
}
