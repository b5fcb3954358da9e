// Package store provides the durable per-store key-value persistence layer.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jjperez22/the-ERP-sub000/internal/models"
)

// SQLiteBackend persists records in the shared SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a backend over an opened, migrated database.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

const recordColumns = "store_name, id, payload, version, last_modified_at, dirty"

// Put upserts a record.
func (b *SQLiteBackend) Put(rec *models.Record) error {
	query := `
	INSERT INTO records (store_name, id, payload, version, last_modified_at, dirty)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (store_name, id) DO UPDATE SET
		payload = excluded.payload,
		version = excluded.version,
		last_modified_at = excluded.last_modified_at,
		dirty = excluded.dirty
	`
	_, err := b.db.Exec(query, rec.StoreName, rec.ID, string(rec.Payload),
		rec.Version, rec.LastModifiedAt, rec.Dirty)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", rec.StoreName, rec.ID, err)
	}
	return nil
}

// Get retrieves a record, returning (nil, nil) when absent.
func (b *SQLiteBackend) Get(storeName string, id models.UUID) (*models.Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE store_name = ? AND id = ?"
	rec, err := scanRecord(b.db.QueryRow(query, storeName, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", storeName, id, err)
	}
	return rec, nil
}

// GetAll returns every record in the store.
func (b *SQLiteBackend) GetAll(storeName string) ([]*models.Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE store_name = ? ORDER BY last_modified_at"
	rows, err := b.db.Query(query, storeName)
	if err != nil {
		return nil, fmt.Errorf("failed to list records for %s: %w", storeName, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Delete removes a record.
func (b *SQLiteBackend) Delete(storeName string, id models.UUID) error {
	_, err := b.db.Exec("DELETE FROM records WHERE store_name = ? AND id = ?", storeName, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", storeName, id, err)
	}
	return nil
}

// Search matches records whose payload field matches the LIKE pattern.
func (b *SQLiteBackend) Search(storeName, field, likePattern string) ([]*models.Record, error) {
	query := "SELECT " + recordColumns + ` FROM records
	WHERE store_name = ? AND json_extract(payload, ?) LIKE ? ESCAPE '\'
	ORDER BY last_modified_at`
	rows, err := b.db.Query(query, storeName, "$."+field, likePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search records for %s.%s: %w", storeName, field, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DirtyCount returns the number of dirty records in the store.
func (b *SQLiteBackend) DirtyCount(storeName string) (int, error) {
	var count int
	err := b.db.QueryRow("SELECT COUNT(*) FROM records WHERE store_name = ? AND dirty = 1", storeName).Scan(&count)
	return count, err
}

// MarkClean clears the dirty flag.
func (b *SQLiteBackend) MarkClean(storeName string, id models.UUID) error {
	_, err := b.db.Exec("UPDATE records SET dirty = 0 WHERE store_name = ? AND id = ?", storeName, id)
	if err != nil {
		return fmt.Errorf("failed to mark record %s/%s clean: %w", storeName, id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var payload string
	if err := row.Scan(&rec.StoreName, &rec.ID, &payload, &rec.Version,
		&rec.LastModifiedAt, &rec.Dirty); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
