// Package models provides data model definitions for the ERP backend.
package models

import "encoding/json"

// Product represents a construction-materials catalog entry.
// Products are persisted as Record payloads in the "products" store.
type Product struct {
	ID        UUID    `json:"id"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Unit      string  `json:"unit"` // bag, m3, ton, piece
	UnitPrice float64 `json:"unit_price"`
	StockQty  float64 `json:"stock_qty"`
}

// Marshal serializes the product into a record payload.
func (p *Product) Marshal() (json.RawMessage, error) {
	return json.Marshal(p)
}

// ProductIndexFields lists the payload fields indexed for search.
var ProductIndexFields = []string{"sku", "category", "name"}
