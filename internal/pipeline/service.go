package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vidflow/internal/logger"
	"vidflow/internal/models"
)

var (
	ErrUnknownStage = errors.New("unknown pipeline stage")
	ErrCardNotFound = errors.New("pipeline card not found")
)

// Store is the pipeline_cards persistence. Lookups that find nothing return
// an error wrapping sql.ErrNoRows.
type Store interface {
	ListCards(ctx context.Context) ([]models.PipelineCard, error)
	GetCard(ctx context.Context, id int64) (*models.PipelineCard, error)
	UpdateStage(ctx context.Context, id int64, stage models.Stage, enteredAt time.Time) error
	UpdateAssignee(ctx context.Context, id int64, assignee string) error
	ListCardsEnteredBefore(ctx context.Context, before time.Time, exclude models.Stage) ([]models.PipelineCard, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type Service struct {
	Store  Store
	Events EventPublisher
	// StageChangedTopic receives a StageChangedEvent for every move.
	StageChangedTopic string

	logger *logger.Logger
	now    func() time.Time
}

func NewService(store Store, events EventPublisher, log *logger.Logger) *Service {
	return &Service{
		Store:             store,
		Events:            events,
		StageChangedTopic: "vidflow.pipeline.stage_changed",
		logger:            log,
		now:               time.Now,
	}
}

// Progress is the completion percentage shown on a card.
func Progress(stage models.Stage) int {
	i := stage.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / (len(models.Stages) - 1)
}

// Board returns every card grouped by stage. All stages are present.
func (s *Service) Board(ctx context.Context) (map[models.Stage][]models.PipelineCard, error) {
	cards, err := s.Store.ListCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pipeline cards: %w", err)
	}

	board := make(map[models.Stage][]models.PipelineCard, len(models.Stages))
	for _, stage := range models.Stages {
		board[stage] = []models.PipelineCard{}
	}
	for _, card := range cards {
		if _, ok := board[card.Stage]; !ok {
			s.logger.Warn("PIPELINE", fmt.Sprintf("card %d has unknown stage %q", card.ID, card.Stage))
			continue
		}
		board[card.Stage] = append(board[card.Stage], card)
	}
	return board, nil
}

func (s *Service) getCard(ctx context.Context, cardID int64) (*models.PipelineCard, error) {
	card, err := s.Store.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %d: %w", cardID, ErrCardNotFound)
		}
		return nil, fmt.Errorf("load card %d: %w", cardID, err)
	}
	return card, nil
}

// MoveCard puts a card into stage and restarts its stage clock. Moving a
// card to the stage it is already in changes nothing.
func (s *Service) MoveCard(ctx context.Context, cardID int64, stage string) (*models.PipelineCard, error) {
	target, err := models.ParseStage(strings.ToUpper(strings.TrimSpace(stage)))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	card, err := s.getCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.Stage == target {
		return card, nil
	}

	from := card.Stage
	enteredAt := s.now().UTC()
	if err := s.Store.UpdateStage(ctx, cardID, target, enteredAt); err != nil {
		return nil, fmt.Errorf("move card %d to %s: %w", cardID, target, err)
	}
	card.Stage = target
	card.StageEnteredAt = enteredAt

	s.logger.Info("PIPELINE", fmt.Sprintf("card %d (order %d) %s -> %s", card.ID, card.OrderID, from, target))
	s.publishStageChanged(ctx, models.StageChangedEvent{
		CardID:    card.ID,
		OrderID:   card.OrderID,
		From:      from,
		To:        target,
		ChangedAt: enteredAt,
	})
	return card, nil
}

func (s *Service) publishStageChanged(ctx context.Context, event models.StageChangedEvent) {
	if s.Events == nil || s.StageChangedTopic == "" {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("marshal stage change: %v", err))
		return
	}
	if err := s.Events.Publish(ctx, s.StageChangedTopic, strconv.FormatInt(event.OrderID, 10), value); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish stage change of card %d: %v", event.CardID, err))
	}
}

// AssignCard sets who works on a card. An empty assignee clears it.
func (s *Service) AssignCard(ctx context.Context, cardID int64, assignee string) (*models.PipelineCard, error) {
	card, err := s.getCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	assignee = strings.TrimSpace(assignee)
	if err := s.Store.UpdateAssignee(ctx, cardID, assignee); err != nil {
		return nil, fmt.Errorf("assign card %d: %w", cardID, err)
	}
	card.Assignee = assignee
	return card, nil
}

// StaleCards lists undelivered cards that have sat in their stage longer
// than olderThan.
func (s *Service) StaleCards(ctx context.Context, olderThan time.Duration) ([]models.PipelineCard, error) {
	cards, err := s.Store.ListCardsEnteredBefore(ctx, s.now().UTC().Add(-olderThan), models.StageDelivered)
	if err != nil {
		return nil, fmt.Errorf("list stale cards: %w", err)
	}
	return cards, nil
}
