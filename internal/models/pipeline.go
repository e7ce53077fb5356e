package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type Stage string

const (
	StageWaiting   Stage = "WAITING"
	StageShooting  Stage = "SHOOTING"
	StageEditing   Stage = "EDITING"
	StageReady     Stage = "READY"
	StageDelivered Stage = "DELIVERED"
)

// Stages in production order.
var Stages = []Stage{StageWaiting, StageShooting, StageEditing, StageReady, StageDelivered}

func ParseStage(s string) (Stage, error) {
	for _, stage := range Stages {
		if string(stage) == s {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline stage %q", s)
}

// Index is the stage's position in Stages, or -1.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

type PipelineCard struct {
	bun.BaseModel `bun:"table:pipeline_cards"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	OrderID        int64     `bun:"order_id,notnull,unique" json:"order_id"`
	Stage          Stage     `bun:"stage,notnull" json:"stage"`
	Assignee       string    `bun:"assignee,nullzero" json:"assignee,omitempty"`
	StageEnteredAt time.Time `bun:"stage_entered_at,notnull" json:"stage_entered_at"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}

type StageChangedEvent struct {
	CardID    int64     `json:"card_id"`
	OrderID   int64     `json:"order_id"`
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}
