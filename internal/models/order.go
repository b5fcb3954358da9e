// Package models provides data model definitions for the ERP backend.
package models

import "encoding/json"

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderLine is one product line on an order.
type OrderLine struct {
	ProductID UUID    `json:"product_id"`
	SKU       string  `json:"sku"`
	Qty       float64 `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
}

// Order represents a customer order.
// Orders are persisted as Record payloads in the "orders" store.
type Order struct {
	ID         UUID        `json:"id"`
	CustomerID UUID        `json:"customer_id"`
	Lines      []OrderLine `json:"lines"`
	Total      float64     `json:"total"`
	Status     OrderStatus `json:"status"`
}

// Marshal serializes the order into a record payload.
func (o *Order) Marshal() (json.RawMessage, error) {
	return json.Marshal(o)
}

// ComputeTotal recalculates the order total from its lines.
func (o *Order) ComputeTotal() float64 {
	total := 0.0
	for _, l := range o.Lines {
		total += l.Qty * l.UnitPrice
	}
	o.Total = total
	return total
}

// OrderIndexFields lists the payload fields indexed for search.
var OrderIndexFields = []string{"status", "customer_id"}
