package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Venue     string    `bun:"venue" json:"venue"`
	EventDate time.Time `bun:"event_date,notnull" json:"event_date"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Package is a purchasable offering for one event. Price is in the smallest
// currency unit (KRW has no subdivision).
type Package struct {
	bun.BaseModel `bun:"table:packages"`

	ID          int64           `bun:"id,pk,autoincrement" json:"id"`
	EventID     int64           `bun:"event_id,notnull" json:"event_id"`
	Name        string          `bun:"name,notnull" json:"name"`
	Price       int64           `bun:"price,notnull" json:"price"`
	Composition CompositionJSON `bun:"composition,type:jsonb" json:"composition"`
	IsSoldOut   bool            `bun:"is_sold_out,notnull" json:"is_sold_out"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
}

// CompositionJSON holds the composition column exactly as stored. Admin
// tooling writes it loosely, so it is only interpreted through
// ParseComposition when an order is placed.
type CompositionJSON struct {
	Raw []byte
}

func NewCompositionJSON(types ...DeliverableType) CompositionJSON {
	if types == nil {
		types = []DeliverableType{}
	}
	raw, _ := json.Marshal(types)
	return CompositionJSON{Raw: raw}
}

func (c CompositionJSON) Value() (driver.Value, error) {
	if len(c.Raw) == 0 {
		return nil, nil
	}
	return string(c.Raw), nil
}

func (c *CompositionJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		c.Raw = nil
	case []byte:
		c.Raw = append([]byte(nil), v...)
	case string:
		c.Raw = []byte(v)
	default:
		return fmt.Errorf("composition: unsupported column type %T", src)
	}
	return nil
}

func (c CompositionJSON) MarshalJSON() ([]byte, error) {
	if len(bytes.TrimSpace(c.Raw)) == 0 || !json.Valid(c.Raw) {
		return []byte("[]"), nil
	}
	return c.Raw, nil
}

func (c *CompositionJSON) UnmarshalJSON(data []byte) error {
	c.Raw = append([]byte(nil), data...)
	return nil
}
