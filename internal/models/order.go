package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderPaid     OrderStatus = "PAID"
	OrderRefunded OrderStatus = "REFUNDED"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            int64       `bun:"id,pk,autoincrement" json:"id"`
	UserID        string      `bun:"user_id,notnull" json:"user_id"`
	EventID       int64       `bun:"event_id,notnull" json:"event_id"`
	PackageID     int64       `bun:"package_id,notnull" json:"package_id"`
	PaymentRef    string      `bun:"payment_ref,notnull,unique" json:"payment_ref"`
	Amount        int64       `bun:"amount,notnull" json:"amount"`
	Status        OrderStatus `bun:"status,notnull" json:"status"`
	Discipline    string      `bun:"discipline,nullzero" json:"discipline,omitempty"`
	AthleteNumber string      `bun:"athlete_number,nullzero" json:"athlete_number,omitempty"`
	CreatedAt     time.Time   `bun:"created_at,notnull" json:"created_at"`
}

// OrderWithCard is an order with its production card and deliverables.
type OrderWithCard struct {
	Order        Order         `json:"order"`
	Card         *PipelineCard `json:"card"`
	Deliverables []Deliverable `json:"deliverables"`
}

// OrderCreatedEvent is published once all three records exist.
type OrderCreatedEvent struct {
	OrderID      int64             `json:"order_id"`
	CardID       int64             `json:"card_id"`
	UserID       string            `json:"user_id"`
	EventID      int64             `json:"event_id"`
	PackageID    int64             `json:"package_id"`
	Amount       int64             `json:"amount"`
	Deliverables []DeliverableType `json:"deliverables"`
	CreatedAt    time.Time         `json:"created_at"`
}
