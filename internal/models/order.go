package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OrderStatusPending is the status every new order is persisted with.
const OrderStatusPending = "Pending"

// RefNumIndex is the unique index on the public order reference.
const RefNumIndex = "idx_orders_ref_num"

type Order struct {
	BaseModel
	RefNum       string          `gorm:"size:20;not null;uniqueIndex:idx_orders_ref_num" json:"ref_num"`
	CustomerID   uuid.UUID       `gorm:"type:uuid;index" json:"customer_id"`
	Customer     *Customer       `json:"customer,omitempty"`
	CustomerName string          `gorm:"size:100" json:"customer_name"`
	Amount       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Items        datatypes.JSON  `json:"items"`
	Status       *string         `gorm:"size:50" json:"status"`
	InvoiceSent  bool            `gorm:"not null;default:false" json:"invoice_sent"`
	Paid         bool            `gorm:"not null;default:false" json:"paid"`
}

// OrderLineItem is one priced line of the frozen item snapshot.
type OrderLineItem struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
	ImageURL  *string         `json:"image_url"`
}

// MarshalJSON writes money as JSON numbers so the snapshot stays readable by other clients.
func (l OrderLineItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        int         `json:"id"`
		Name      string      `json:"name"`
		Qty       int         `json:"qty"`
		Price     json.Number `json:"price"`
		LineTotal json.Number `json:"line_total"`
		ImageURL  *string     `json:"image_url"`
	}{
		ID:        l.ID,
		Name:      l.Name,
		Qty:       l.Qty,
		Price:     json.Number(l.Price.StringFixed(2)),
		LineTotal: json.Number(l.LineTotal.StringFixed(2)),
		ImageURL:  l.ImageURL,
	})
}
