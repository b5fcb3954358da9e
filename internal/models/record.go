// Package models provides data model definitions for the ERP backend.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Well-known logical store names.
const (
	StoreProducts  = "products"
	StoreCustomers = "customers"
	StoreOrders    = "orders"
)

// Record is one entity instance persisted in a named local store.
// Payload carries the entity's fields as JSON; Version strictly
// increases on every local write.
type Record struct {
	StoreName      string          `db:"store_name" json:"store_name"`
	ID             UUID            `db:"id" json:"id"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Version        int             `db:"version" json:"version"`
	LastModifiedAt int64           `db:"last_modified_at" json:"last_modified_at"` // unix millis
	Dirty          bool            `db:"dirty" json:"dirty"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// LastModifiedTime returns LastModifiedAt as time.Time.
func (r *Record) LastModifiedTime() time.Time {
	return time.UnixMilli(r.LastModifiedAt)
}

// NewerThan reports whether this record was modified after other.
func (r *Record) NewerThan(other *Record) bool {
	return r.LastModifiedAt > other.LastModifiedAt
}
