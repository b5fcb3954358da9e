// Package models provides data model definitions for the ERP backend.
package models

import "encoding/json"

// Customer represents a buyer account.
// Customers are persisted as Record payloads in the "customers" store.
type Customer struct {
	ID    UUID   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	City  string `json:"city,omitempty"`
}

// Marshal serializes the customer into a record payload.
func (c *Customer) Marshal() (json.RawMessage, error) {
	return json.Marshal(c)
}

// CustomerIndexFields lists the payload fields indexed for search.
var CustomerIndexFields = []string{"name", "email", "city"}
