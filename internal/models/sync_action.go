// Package models provides data model definitions for the ERP backend.
package models

import (
	"encoding/json"
	"time"
)

// ActionType represents the kind of pending mutation.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Priority represents the dispatch priority of a sync action.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of a priority; lower dispatches first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// SyncAction is one pending mutation awaiting remote application.
// At most one pending action exists per (StoreName, RecordID); new
// mutations on the same record coalesce into the existing action.
type SyncAction struct {
	ID           UUID            `db:"id" json:"id"`
	ActionType   ActionType      `db:"action_type" json:"action_type"`
	StoreName    string          `db:"store_name" json:"store_name"`
	RecordID     UUID            `db:"record_id" json:"record_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"` // full record for create/update, empty for delete
	Priority     Priority        `db:"priority" json:"priority"`
	CreatedAt    int64           `db:"created_at" json:"created_at"` // unix millis, secondary sort key
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt  int64           `db:"next_retry_at" json:"next_retry_at"` // unix millis

	// Generation advances every time a newer mutation supersedes this
	// entry, so an in-flight dispatch of an older payload cannot retire
	// the new intent. Not persisted; leases do not survive a restart.
	Generation int64 `db:"-" json:"-"`
}

// TableName returns the table name for SyncAction.
func (SyncAction) TableName() string {
	return "sync_queue"
}

// Eligible reports whether the action may be dispatched at the given time.
func (a *SyncAction) Eligible(now time.Time) bool {
	return a.NextRetryAt <= now.UnixMilli()
}

// CreatedTime returns CreatedAt as time.Time.
func (a *SyncAction) CreatedTime() time.Time {
	return time.UnixMilli(a.CreatedAt)
}

// SyncResult is the transient outcome of one dispatch attempt.
type SyncResult struct {
	Success    bool   `json:"success"`
	Retryable  bool   `json:"retryable"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PassStats aggregates the outcome of one orchestrator pass.
type PassStats struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Deferred   int `json:"deferred"`
}

// Total returns the number of actions handled in the pass.
func (s PassStats) Total() int {
	return s.Successful + s.Failed + s.Deferred
}
