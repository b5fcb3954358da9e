// Package conflict provides conflict resolution for bidirectional
// offline synchronization.
package conflict

import (
	"github.com/jjperez22/the-ERP-sub000/internal/logging"
	"github.com/jjperez22/the-ERP-sub000/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
)

// Resolver handles conflict resolution during reconciliation.
type Resolver struct {
	strategy ResolutionStrategy
}

// NewResolver creates a Resolver with the specified strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	if strategy == "" {
		strategy = ResolutionStrategyLastWriteWins
	}
	return &Resolver{strategy: strategy}
}

// Conflict represents a detected divergence between local and remote
// versions of the same record.
type Conflict struct {
	StoreName string
	RecordID  models.UUID
	Local     *models.Record
	Remote    *models.Record
}

// ResolveResult is the outcome of resolving one conflict.
type ResolveResult struct {
	Winner     *models.Record
	Loser      *models.Record
	Resolution string // local_wins, remote_wins
	Strategy   ResolutionStrategy
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both records must be non-nil"}
	ErrRecordMismatch  = &ConflictError{Message: "record id mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Detect reports whether local and remote versions of a record have
// diverged. Equal timestamps and versions mean no conflict.
func (r *Resolver) Detect(local, remote *models.Record) (*Conflict, bool) {
	if local == nil || remote == nil {
		return nil, false
	}
	if local.StoreName != remote.StoreName || local.ID != remote.ID {
		return nil, false
	}
	if local.Version == remote.Version && local.LastModifiedAt == remote.LastModifiedAt {
		return nil, false
	}

	return &Conflict{
		StoreName: local.StoreName,
		RecordID:  local.ID,
		Local:     local,
		Remote:    remote,
	}, true
}

// Resolve applies last-write-wins over LastModifiedAt. The side with
// the newer timestamp becomes the authoritative state; local wins ties.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if c == nil || c.Local == nil || c.Remote == nil {
		return nil, ErrInvalidConflict
	}
	if c.Local.ID != c.Remote.ID {
		return nil, ErrRecordMismatch
	}

	result := &ResolveResult{Strategy: r.strategy}
	if c.Local.LastModifiedAt >= c.Remote.LastModifiedAt {
		result.Winner = c.Local
		result.Loser = c.Remote
		result.Resolution = "local_wins"
	} else {
		result.Winner = c.Remote
		result.Loser = c.Local
		result.Resolution = "remote_wins"
	}

	logging.Info("conflict resolved using last-write-wins",
		map[string]interface{}{
			"store":            c.StoreName,
			"record_id":        c.RecordID,
			"local_timestamp":  c.Local.LastModifiedAt,
			"remote_timestamp": c.Remote.LastModifiedAt,
			"resolution":       result.Resolution,
		})

	return result, nil
}

// ResolveMany resolves a batch of conflicts.
func (r *Resolver) ResolveMany(conflicts []*Conflict) ([]*ResolveResult, error) {
	results := make([]*ResolveResult, 0, len(conflicts))
	for _, c := range conflicts {
		result, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
