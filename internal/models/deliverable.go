package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type DeliverableType string

const (
	DeliverableMainVideo      DeliverableType = "MAIN_VIDEO"
	DeliverableHighlightVideo DeliverableType = "HIGHLIGHT_VIDEO"
	DeliverablePhotoZip       DeliverableType = "PHOTO_ZIP"
	DeliverableRawFootage     DeliverableType = "RAW_FOOTAGE"
	DeliverableReels          DeliverableType = "REELS"
)

var deliverableTypes = map[DeliverableType]struct{}{
	DeliverableMainVideo:      {},
	DeliverableHighlightVideo: {},
	DeliverablePhotoZip:       {},
	DeliverableRawFootage:     {},
	DeliverableReels:          {},
}

func ParseDeliverableType(s string) (DeliverableType, error) {
	t := DeliverableType(s)
	if _, ok := deliverableTypes[t]; !ok {
		return "", fmt.Errorf("unknown deliverable type %q", s)
	}
	return t, nil
}

// Composition is the ordered list of deliverable types a package promises.
type Composition []DeliverableType

// ParseComposition reads a stored composition. Missing, null and non-array
// values are an empty composition. A malformed array, or one containing
// anything other than a known deliverable tag, is an error.
func ParseComposition(raw []byte) (Composition, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return Composition{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("composition: %w", err)
	}

	composition := make(Composition, 0, len(items))
	for i, item := range items {
		var tag string
		if err := json.Unmarshal(item, &tag); err != nil {
			return nil, fmt.Errorf("composition[%d]: not a string: %s", i, item)
		}
		t, err := ParseDeliverableType(tag)
		if err != nil {
			return nil, fmt.Errorf("composition[%d]: %w", i, err)
		}
		composition = append(composition, t)
	}
	return composition, nil
}

type LinkStatus string

const (
	LinkUnchecked LinkStatus = "UNCHECKED"
	LinkValid     LinkStatus = "VALID"
	LinkInvalid   LinkStatus = "INVALID"
)

type Deliverable struct {
	bun.BaseModel `bun:"table:deliverables"`

	ID           int64           `bun:"id,pk,autoincrement" json:"id"`
	CardID       int64           `bun:"card_id,notnull" json:"card_id"`
	Type         DeliverableType `bun:"type,notnull" json:"type"`
	LinkStatus   LinkStatus      `bun:"link_status,notnull" json:"link_status"`
	ExternalLink string          `bun:"external_link,nullzero" json:"external_link,omitempty"`
	DownloadedAt *time.Time      `bun:"downloaded_at" json:"downloaded_at,omitempty"`
	CheckedAt    *time.Time      `bun:"checked_at" json:"checked_at,omitempty"`
}
