package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents all possible states of a restaurant order
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusRejected  OrderStatus = "rejected"
	StatusDelayed   OrderStatus = "delayed"
	StatusCancelled OrderStatus = "cancelled"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
)

// AllStatuses lists every recognized status in lifecycle order.
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusAccepted,
	StatusDelayed,
	StatusReady,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

// TerminalStatuses have no outgoing transitions; their display numbers are recycled.
var TerminalStatuses = []OrderStatus{StatusRejected, StatusCancelled, StatusCompleted}

// IsValid reports whether s is one of the recognized statuses.
func (s OrderStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is rejected, cancelled or completed.
func (s OrderStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Origin identifies who requested a status change.
type Origin string

const (
	OriginStaff    Origin = "staff"
	OriginExternal Origin = "external" // the fulfillment backend itself
)

// Display numbers cycle through this range.
const (
	MinDisplayNumber = 100
	MaxDisplayNumber = 999
)

// The display-number index predicate must stay comma free; gorm splits tag
// options on commas.
type Order struct {
	ID                  string          `json:"id" gorm:"primaryKey;size:50"`
	DisplayNumber       int             `json:"display_number" gorm:"not null;uniqueIndex:idx_orders_open_display_number,where:status <> 'rejected' AND status <> 'cancelled' AND status <> 'completed'"`
	CustomerName        string          `json:"customer_name" gorm:"size:100;not null"`
	CustomerPhone       string          `json:"customer_phone" gorm:"size:20;not null"`
	DeliveryAddress     string          `json:"delivery_address" gorm:"type:text;not null"`
	TotalAmount         decimal.Decimal `json:"total_amount" gorm:"type:decimal(10,2);not null"`
	Status              OrderStatus     `json:"status" gorm:"size:20;not null;default:'pending';index"`
	CreatedAt           time.Time       `json:"created_at" gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt           time.Time       `json:"updated_at" gorm:"not null;index;autoUpdateTime:false"`
	ReadyAt             *time.Time      `json:"ready_at"`
	CompletedAt         *time.Time      `json:"completed_at"`
	SpecialInstructions *string         `json:"special_instructions" gorm:"type:text"`
	Version             int64           `json:"version" gorm:"not null;default:1"`
	Items               []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

type OrderItem struct {
	ID                  uint            `json:"-" gorm:"primaryKey"`
	OrderID             string          `json:"-" gorm:"size:50;not null;index"`
	Name                string          `json:"name" gorm:"size:200;not null"`
	Quantity            int             `json:"quantity" gorm:"not null"`
	Price               decimal.Decimal `json:"price" gorm:"type:decimal(8,2);not null"`
	SpecialInstructions *string         `json:"special_instructions" gorm:"type:text"`
}

// ItemsTotal sums quantity × price over the order's items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
