package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vidflow/internal/logger"
	"vidflow/internal/models"
	"vidflow/internal/notify"
)

var (
	ErrNotReady            = errors.New("deliverables are not all verified")
	ErrInvalidLink         = errors.New("link must be an absolute http(s) URL")
	ErrDeliverableNotFound = errors.New("deliverable not found")
	ErrCardNotFound        = errors.New("pipeline card not found")
	ErrNotOwner            = errors.New("deliverable belongs to another user")
)

// Store is the deliverables persistence plus the card and order lookups a
// delivery email needs. Missing rows wrap sql.ErrNoRows.
type Store interface {
	GetDeliverable(ctx context.Context, id int64) (*models.Deliverable, error)
	GetDeliverablesByCard(ctx context.Context, cardID int64) ([]models.Deliverable, error)
	SetLink(ctx context.Context, id int64, link string) error
	SetLinkStatus(ctx context.Context, id int64, status models.LinkStatus, checkedAt time.Time) error
	SetDownloaded(ctx context.Context, id int64, at time.Time) error
	GetCard(ctx context.Context, cardID int64) (*models.PipelineCard, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

// CardMover is satisfied by the pipeline service.
type CardMover interface {
	MoveCard(ctx context.Context, cardID int64, stage string) (*models.PipelineCard, error)
}

type Service struct {
	Store       Store
	Mailer      notify.Mailer
	Cards       CardMover
	HTTPClient  *http.Client
	SiteBaseURL string

	logger *logger.Logger
	now    func() time.Time
}

func NewService(store Store, mailer notify.Mailer, cards CardMover, siteBaseURL string, log *logger.Logger) *Service {
	return &Service{
		Store:       store,
		Mailer:      mailer,
		Cards:       cards,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		SiteBaseURL: strings.TrimRight(siteBaseURL, "/"),
		logger:      log,
		now:         time.Now,
	}
}

// LinkCheck counts the outcome of VerifyLinks.
type LinkCheck struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

func notFound(err error, sentinel error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%d: %w", id, sentinel)
	}
	return err
}

func validLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// SetLink stores an external link and puts the deliverable back to UNCHECKED.
func (s *Service) SetLink(ctx context.Context, deliverableID int64, link string) (*models.Deliverable, error) {
	link = strings.TrimSpace(link)
	if !validLink(link) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLink, link)
	}

	d, err := s.Store.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return nil, notFound(err, ErrDeliverableNotFound, deliverableID)
	}
	if err := s.Store.SetLink(ctx, deliverableID, link); err != nil {
		return nil, fmt.Errorf("set link of deliverable %d: %w", deliverableID, err)
	}
	d.ExternalLink = link
	d.LinkStatus = models.LinkUnchecked
	d.CheckedAt = nil
	s.logger.Info("DELIVERY", fmt.Sprintf("deliverable %d (%s) linked", d.ID, d.Type))
	return d, nil
}

func (s *Service) checkLink(ctx context.Context, link string) models.LinkStatus {
	if link == "" {
		return models.LinkInvalid
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return models.LinkInvalid
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.logger.Debug("DELIVERY", fmt.Sprintf("HEAD %s: %v", link, err))
		return models.LinkInvalid
	}
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return models.LinkValid
	}
	return models.LinkInvalid
}

// VerifyLinks sends HEAD to every deliverable link of a card and records
// the result.
func (s *Service) VerifyLinks(ctx context.Context, cardID int64) (LinkCheck, error) {
	var check LinkCheck
	deliverables, err := s.Store.GetDeliverablesByCard(ctx, cardID)
	if err != nil {
		return check, fmt.Errorf("load deliverables of card %d: %w", cardID, err)
	}

	checkedAt := s.now().UTC()
	for _, d := range deliverables {
		status := s.checkLink(ctx, d.ExternalLink)
		if err := s.Store.SetLinkStatus(ctx, d.ID, status, checkedAt); err != nil {
			return check, fmt.Errorf("record link status of deliverable %d: %w", d.ID, err)
		}
		if status == models.LinkValid {
			check.Valid++
		} else {
			check.Invalid++
		}
	}
	s.logger.Info("DELIVERY", fmt.Sprintf("card %d links checked: %d valid, %d invalid", cardID, check.Valid, check.Invalid))
	return check, nil
}

// NotifyDelivered emails the links of a fully verified card and moves it to
// DELIVERED. It returns the email provider's message id.
func (s *Service) NotifyDelivered(ctx context.Context, cardID int64, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", notify.ErrNoRecipient
	}

	card, err := s.Store.GetCard(ctx, cardID)
	if err != nil {
		return "", notFound(err, ErrCardNotFound, cardID)
	}
	deliverables, err := s.Store.GetDeliverablesByCard(ctx, cardID)
	if err != nil {
		return "", fmt.Errorf("load deliverables of card %d: %w", cardID, err)
	}
	if len(deliverables) == 0 {
		return "", fmt.Errorf("card %d has no deliverables: %w", cardID, ErrNotReady)
	}

	links := make([]notify.DeliveryLink, 0, len(deliverables))
	for _, d := range deliverables {
		if d.LinkStatus != models.LinkValid {
			return "", fmt.Errorf("deliverable %d is %s: %w", d.ID, d.LinkStatus, ErrNotReady)
		}
		links = append(links, notify.DeliveryLink{Label: notify.Label(d.Type), URL: d.ExternalLink})
	}

	o, err := s.Store.GetOrder(ctx, card.OrderID)
	if err != nil {
		return "", fmt.Errorf("load order %d: %w", card.OrderID, err)
	}

	subject, html, err := notify.RenderDelivery(notify.DeliveryData{
		OrderID:         o.ID,
		AthleteNumber:   o.AthleteNumber,
		Links:           links,
		DownloadPageURL: fmt.Sprintf("%s/orders/%d", s.SiteBaseURL, o.ID),
	})
	if err != nil {
		return "", err
	}

	messageID, err := s.Mailer.Send(ctx, notify.Email{To: []string{recipient}, Subject: subject, HTML: html})
	if err != nil {
		s.logger.Error("DELIVERY", fmt.Sprintf("delivery email for order %d failed: %v", o.ID, err))
		return "", fmt.Errorf("send delivery email: %w", err)
	}

	if _, err := s.Cards.MoveCard(ctx, cardID, string(models.StageDelivered)); err != nil {
		// the email is out, so report the id and leave the move to a retry
		s.logger.Error("DELIVERY", fmt.Sprintf("email %s sent but card %d not moved: %v", messageID, cardID, err))
		return messageID, fmt.Errorf("move card %d to delivered: %w", cardID, err)
	}
	s.logger.LogOrder("DELIVERED", o.ID, fmt.Sprintf("email %s sent", messageID))
	return messageID, nil
}

// MarkDownloaded stamps the first download of a deliverable.
func (s *Service) MarkDownloaded(ctx context.Context, deliverableID int64) error {
	d, err := s.Store.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return notFound(err, ErrDeliverableNotFound, deliverableID)
	}
	if d.DownloadedAt != nil {
		return nil
	}
	if err := s.Store.SetDownloaded(ctx, deliverableID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark deliverable %d downloaded: %w", deliverableID, err)
	}
	return nil
}

// OpenDownload returns the link of a verified deliverable for its buyer (or
// staff) and records the download.
func (s *Service) OpenDownload(ctx context.Context, deliverableID int64, userID string, staff bool) (string, error) {
	d, err := s.Store.GetDeliverable(ctx, deliverableID)
	if err != nil {
		return "", notFound(err, ErrDeliverableNotFound, deliverableID)
	}
	if !staff {
		card, err := s.Store.GetCard(ctx, d.CardID)
		if err != nil {
			return "", notFound(err, ErrCardNotFound, d.CardID)
		}
		o, err := s.Store.GetOrder(ctx, card.OrderID)
		if err != nil {
			return "", fmt.Errorf("load order %d: %w", card.OrderID, err)
		}
		if o.UserID != userID {
			return "", fmt.Errorf("deliverable %d: %w", deliverableID, ErrNotOwner)
		}
	}
	if d.LinkStatus != models.LinkValid {
		return "", fmt.Errorf("deliverable %d is %s: %w", deliverableID, d.LinkStatus, ErrNotReady)
	}
	if err := s.MarkDownloaded(ctx, deliverableID); err != nil {
		s.logger.Warn("DELIVERY", fmt.Sprintf("download of deliverable %d not recorded: %v", deliverableID, err))
	}
	return d.ExternalLink, nil
}
