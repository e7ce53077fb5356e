package order

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
	"vidflow/internal/payment"

	"github.com/google/uuid"
)

// Store is the persistence the order flow needs. Lookups that find nothing
// return an error wrapping sql.ErrNoRows.
type Store interface {
	GetPackageByID(ctx context.Context, id int64) (*models.Package, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) (int64, error)
	DeleteOrder(ctx context.Context, id int64) error
	CreatePipelineCard(ctx context.Context, card *models.PipelineCard) (int64, error)
	DeletePipelineCard(ctx context.Context, id int64) error
	GetCardByOrderID(ctx context.Context, orderID int64) (*models.PipelineCard, error)
	CreateDeliverables(ctx context.Context, deliverables []models.Deliverable) error
	GetDeliverablesByCard(ctx context.Context, cardID int64) ([]models.Deliverable, error)
}

// Transactor is implemented by stores that can run several writes in one
// database transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}

type Gateway interface {
	LookupPayment(ctx context.Context, paymentRef string) (*payment.PaymentInfo, error)
}

type PaymentLocker interface {
	Acquire(ctx context.Context, paymentRef, owner string) (bool, error)
	Release(ctx context.Context, paymentRef, owner string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type OrderService struct {
	Store   Store
	Gateway Gateway
	Locker  PaymentLocker
	Events  EventPublisher

	// OrderCreatedTopic receives an OrderCreatedEvent after every new order.
	OrderCreatedTopic string
	// AtomicWrites runs the three inserts in one transaction when Store
	// implements Transactor.
	AtomicWrites bool
	// StripeWebhookSecret signs incoming Stripe webhooks.
	StripeWebhookSecret string
	// LockWait bounds how long a request waits on a payment locked by
	// another request, polling every LockPoll.
	LockWait time.Duration
	LockPoll time.Duration

	logger *logger.Logger
	now    func() time.Time
}

func NewOrderService(store Store, gateway Gateway, locker PaymentLocker, events EventPublisher, log *logger.Logger) *OrderService {
	return &OrderService{
		Store:             store,
		Gateway:           gateway,
		Locker:            locker,
		Events:            events,
		OrderCreatedTopic: "vidflow.order.created",
		LockWait:          5 * time.Second,
		LockPoll:          100 * time.Millisecond,
		logger:            log,
		now:               time.Now,
	}
}

type CreateOrderRequest struct {
	BuyerID       string `json:"buyerId"`
	EventID       int64  `json:"eventId"`
	PackageID     int64  `json:"packageId"`
	PaymentRef    string `json:"paymentRef"`
	Amount        int64  `json:"amount"`
	Discipline    string `json:"discipline,omitempty"`
	AthleteNumber string `json:"athleteNumber,omitempty"`
}

func (r CreateOrderRequest) validate() *Error {
	if _, err := uuid.Parse(r.BuyerID); err != nil {
		return validationError("buyer id must be a valid identifier")
	}
	if r.EventID <= 0 {
		return validationError("event id must be a positive integer")
	}
	if r.PackageID <= 0 {
		return validationError("package id must be a positive integer")
	}
	if strings.TrimSpace(r.PaymentRef) == "" {
		return validationError("payment reference is required")
	}
	if r.Amount <= 0 {
		return validationError("amount must be a positive integer")
	}
	return nil
}

type VerifyRequest struct {
	PaymentRef     string `json:"paymentRef"`
	BuyerID        string `json:"buyerId"`
	EventID        int64  `json:"eventId"`
	PackageID      int64  `json:"packageId"`
	ExpectedAmount int64  `json:"expectedAmount"`
	Discipline     string `json:"discipline,omitempty"`
	AthleteNumber  string `json:"athleteNumber,omitempty"`
}

func (r VerifyRequest) createRequest(amount int64) CreateOrderRequest {
	return CreateOrderRequest{
		BuyerID:       r.BuyerID,
		EventID:       r.EventID,
		PackageID:     r.PackageID,
		PaymentRef:    strings.TrimSpace(r.PaymentRef),
		Amount:        amount,
		Discipline:    r.Discipline,
		AthleteNumber: r.AthleteNumber,
	}
}

// OrderResult is what CreateOrder reports. Failures carry a Kind and a
// human-readable Error; no Go error leaves the service.
type OrderResult struct {
	Success bool      `json:"success"`
	OrderID int64     `json:"orderId,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

type VerifyResult struct {
	OrderResult
	Duplicate bool `json:"duplicate,omitempty"`
}

func failure(err *Error) OrderResult {
	return OrderResult{Success: false, Error: err.PublicError, Kind: err.Kind}
}

// CreateOrder persists an order, its pipeline card and its deliverables, or
// none of them. The payment is assumed to be verified by the caller.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) OrderResult {
	orderID, err := s.createOrder(ctx, req)
	if err != nil {
		s.logFailure("create", req.PaymentRef, err)
		return failure(err)
	}
	return OrderResult{Success: true, OrderID: orderID, Message: "order created"}
}

func (s *OrderService) createOrder(ctx context.Context, req CreateOrderRequest) (int64, *Error) {
	req.PaymentRef = strings.TrimSpace(req.PaymentRef)
	if err := req.validate(); err != nil {
		return 0, err
	}

	// Step 1: package lookup
	pkg, err := s.Store.GetPackageByID(ctx, req.PackageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, newError(KindNotFound, "package not found", err, "package %d not found", req.PackageID)
		}
		return 0, persistenceError(fmt.Sprintf("load package %d", req.PackageID), err)
	}
	if pkg.EventID != req.EventID {
		return 0, newError(KindValidation, "package does not belong to this event", nil,
			"package %d belongs to event %d, not %d", pkg.ID, pkg.EventID, req.EventID)
	}

	// Step 2: sold-out guard, nothing written yet
	if pkg.IsSoldOut {
		return 0, newError(KindSoldOut, "this package is sold out", nil, "package %d is sold out", pkg.ID)
	}

	// Step 3: composition is validated before the first insert
	composition, err := models.ParseComposition(pkg.Composition.Raw)
	if err != nil {
		return 0, newError(KindValidation, "package composition is invalid", err,
			"package %d composition: %v", pkg.ID, err)
	}

	now := s.now().UTC()
	order := &models.Order{
		UserID:        req.BuyerID,
		EventID:       req.EventID,
		PackageID:     req.PackageID,
		PaymentRef:    req.PaymentRef,
		Amount:        req.Amount,
		Status:        models.OrderPaid,
		Discipline:    strings.TrimSpace(req.Discipline),
		AthleteNumber: strings.TrimSpace(req.AthleteNumber),
		CreatedAt:     now,
	}

	var card *models.PipelineCard
	if tx, ok := s.Store.(Transactor); ok && s.AtomicWrites {
		txErr := tx.RunInTx(ctx, func(store Store) error {
			var werr *Error
			card, werr = s.writeRecords(ctx, store, order, composition, false)
			if werr != nil {
				return werr
			}
			return nil
		})
		if txErr != nil {
			var oerr *Error
			if errors.As(txErr, &oerr) {
				return 0, oerr
			}
			return 0, persistenceError("commit order transaction", txErr)
		}
	} else {
		var werr *Error
		card, werr = s.writeRecords(ctx, s.Store, order, composition, true)
		if werr != nil {
			return 0, werr
		}
	}

	s.logger.LogOrder("CREATED", order.ID, fmt.Sprintf("payment %s, card %d, %d deliverables", order.PaymentRef, card.ID, len(composition)))
	s.publishCreated(ctx, order, card, composition)
	return order.ID, nil
}

// writeRecords inserts order, card and deliverables in that order. With
// compensate set, a failed insert deletes the rows written before it.
func (s *OrderService) writeRecords(ctx context.Context, store Store, order *models.Order, composition models.Composition, compensate bool) (*models.PipelineCard, *Error) {
	// Step 4: order row
	orderID, err := store.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, ErrDuplicatePaymentRef) {
			return nil, newError(KindDuplicate, "an order already exists for this payment", err,
				"payment %s already has an order", order.PaymentRef)
		}
		return nil, persistenceError("insert order", err)
	}
	order.ID = orderID

	// Step 5: pipeline card
	card := &models.PipelineCard{
		OrderID:        orderID,
		Stage:          models.StageWaiting,
		StageEnteredAt: order.CreatedAt,
		CreatedAt:      order.CreatedAt,
	}
	cardID, err := store.CreatePipelineCard(ctx, card)
	if err != nil {
		if compensate {
			s.compensate(ctx, fmt.Sprintf("delete order %d", orderID), func(ctx context.Context) error {
				return store.DeleteOrder(ctx, orderID)
			})
		}
		return nil, persistenceError(fmt.Sprintf("insert pipeline card for order %d", orderID), err)
	}
	card.ID = cardID

	// Step 6: one deliverable per composition entry
	if len(composition) == 0 {
		return card, nil
	}
	deliverables := make([]models.Deliverable, 0, len(composition))
	for _, t := range composition {
		deliverables = append(deliverables, models.Deliverable{
			CardID:     cardID,
			Type:       t,
			LinkStatus: models.LinkUnchecked,
		})
	}
	if err := store.CreateDeliverables(ctx, deliverables); err != nil {
		if compensate {
			s.compensate(ctx, fmt.Sprintf("delete pipeline card %d", cardID), func(ctx context.Context) error {
				return store.DeletePipelineCard(ctx, cardID)
			})
			s.compensate(ctx, fmt.Sprintf("delete order %d", orderID), func(ctx context.Context) error {
				return store.DeleteOrder(ctx, orderID)
			})
		}
		return nil, persistenceError(fmt.Sprintf("insert deliverables for card %d", cardID), err)
	}
	return card, nil
}

// compensate runs one undo step. It is not retried and its failure does
// not replace the error being reported.
func (s *OrderService) compensate(ctx context.Context, step string, undo func(context.Context) error) {
	err := undo(context.WithoutCancel(ctx))
	s.logger.LogCompensation(step, err)
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order, card *models.PipelineCard, composition models.Composition) {
	if s.Events == nil || s.OrderCreatedTopic == "" {
		return
	}
	event := models.OrderCreatedEvent{
		OrderID:      order.ID,
		CardID:       card.ID,
		UserID:       order.UserID,
		EventID:      order.EventID,
		PackageID:    order.PackageID,
		Amount:       order.Amount,
		Deliverables: composition,
		CreatedAt:    order.CreatedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("marshal order created event: %v", err))
		return
	}
	if err := s.Events.Publish(ctx, s.OrderCreatedTopic, strconv.FormatInt(order.ID, 10), value); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish order %d created: %v", order.ID, err))
	}
}

// VerifyAndCreateOrder confirms the payment with the gateway and then
// creates the order with the gateway's amount. A payment that already has
// an order is reported as a successful duplicate.
func (s *OrderService) VerifyAndCreateOrder(ctx context.Context, req VerifyRequest) VerifyResult {
	result, err := s.verifyAndCreate(ctx, req)
	if err != nil {
		s.logFailure("verify", req.PaymentRef, err)
		return VerifyResult{OrderResult: failure(err)}
	}
	return result
}

func (s *OrderService) verifyAndCreate(ctx context.Context, req VerifyRequest) (VerifyResult, *Error) {
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if req.ExpectedAmount <= 0 {
		return VerifyResult{}, validationError("expected amount must be a positive integer")
	}
	if err := req.createRequest(req.ExpectedAmount).validate(); err != nil {
		return VerifyResult{}, err
	}

	if s.Locker != nil {
		owner := uuid.NewString()
		held, existing, lerr := s.lockPayment(ctx, paymentRef, owner)
		if lerr != nil {
			return VerifyResult{}, lerr
		}
		if existing != nil {
			return duplicateResult(existing, req.BuyerID), nil
		}
		if held {
			defer func() {
				if err := s.Locker.Release(context.WithoutCancel(ctx), paymentRef, owner); err != nil {
					s.logger.Warn("REDIS", fmt.Sprintf("release payment lock for %s: %v", paymentRef, err))
				}
			}()
		}
	}

	if existing, ok := s.existingOrder(ctx, paymentRef); ok {
		return duplicateResult(existing, req.BuyerID), nil
	}

	// Step 1-2: gateway lookup
	info, err := s.Gateway.LookupPayment(ctx, paymentRef)
	if err != nil {
		return VerifyResult{}, newError(KindVerification, "payment could not be verified", err,
			"lookup payment %s: %v", paymentRef, err)
	}

	// Step 3: status
	if !info.IsPaid() {
		return VerifyResult{}, newError(KindVerification, "payment is not completed", nil,
			"payment %s has status %q", paymentRef, info.Status)
	}

	// Step 4: exact amount
	if info.PaidAmount != req.ExpectedAmount {
		return VerifyResult{}, newError(KindAmountMismatch, "paid amount does not match the package price", nil,
			"payment %s paid %d, expected %d", paymentRef, info.PaidAmount, req.ExpectedAmount)
	}
	s.logger.LogGateway("VERIFY", paymentRef, fmt.Sprintf("paid %d %s", info.PaidAmount, info.Currency))

	// Step 5: create with the verified amount
	orderID, cerr := s.createOrder(ctx, req.createRequest(info.PaidAmount))
	if cerr != nil {
		// Step 6: a concurrent delivery got there first
		if cerr.Kind == KindDuplicate {
			if existing, ok := s.existingOrder(ctx, paymentRef); ok {
				return duplicateResult(existing, req.BuyerID), nil
			}
			return VerifyResult{
				OrderResult: OrderResult{Success: true, Message: "duplicate: order already exists for this payment"},
				Duplicate:   true,
			}, nil
		}
		return VerifyResult{}, cerr
	}

	return VerifyResult{
		OrderResult: OrderResult{Success: true, OrderID: orderID, Message: "payment verified and order created"},
	}, nil
}

func (s *OrderService) existingOrder(ctx context.Context, paymentRef string) (*models.Order, bool) {
	existing, err := s.Store.GetOrderByPaymentRef(ctx, paymentRef)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("ORDER", fmt.Sprintf("lookup order by payment %s: %v", paymentRef, err))
		}
		return nil, false
	}
	s.logger.Warn("ORDER", fmt.Sprintf("payment %s already has order %d, reporting duplicate", paymentRef, existing.ID))
	return existing, true
}

// lockPayment takes the payment lock for owner. While another request holds
// it, lockPayment polls until that request's order appears, the lock frees
// up, or LockWait runs out. A lock backend error proceeds unlocked.
func (s *OrderService) lockPayment(ctx context.Context, paymentRef, owner string) (bool, *models.Order, *Error) {
	acquired, err := s.Locker.Acquire(ctx, paymentRef, owner)
	if err != nil {
		s.logger.Warn("REDIS", fmt.Sprintf("payment lock for %s unavailable, continuing without it: %v", paymentRef, err))
		return false, nil, nil
	}
	if acquired {
		return true, nil, nil
	}

	busy := func(cause error) *Error {
		return newError(KindInProgress, "payment is already being processed, please retry", cause,
			"payment %s still locked by another request after %s", paymentRef, s.LockWait)
	}
	if s.LockWait <= 0 {
		return false, nil, busy(nil)
	}
	poll := s.LockPoll
	if poll <= 0 || poll > s.LockWait {
		poll = s.LockWait
	}

	timeout := time.NewTimer(s.LockWait)
	defer timeout.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil, busy(ctx.Err())
		case <-timeout.C:
			return false, nil, busy(nil)
		case <-ticker.C:
		}

		if existing, ok := s.existingOrder(ctx, paymentRef); ok {
			return false, existing, nil
		}
		acquired, err := s.Locker.Acquire(ctx, paymentRef, owner)
		if err != nil {
			s.logger.Warn("REDIS", fmt.Sprintf("payment lock for %s unavailable, continuing without it: %v", paymentRef, err))
			return false, nil, nil
		}
		if acquired {
			return true, nil, nil
		}
	}
}

// duplicateResult reports an existing order. The order id is only shown to
// the buyer who owns it.
func duplicateResult(existing *models.Order, buyerID string) VerifyResult {
	result := VerifyResult{
		OrderResult: OrderResult{
			Success: true,
			Message: "duplicate: order already exists for this payment",
		},
		Duplicate: true,
	}
	if existing.UserID == buyerID {
		result.OrderID = existing.ID
	}
	return result
}

func (s *OrderService) logFailure(op, paymentRef string, err *Error) {
	msg := fmt.Sprintf("%s order for payment %s failed (%s): %s", op, paymentRef, err.Kind, err.Error())
	switch err.Kind {
	case KindPersistence:
		s.logger.Error("ORDER", msg)
	case KindValidation, KindNotFound:
		s.logger.Info("ORDER", msg)
	default:
		s.logger.Warn("ORDER", msg)
	}
}

// GetOrder returns the order with its pipeline card and deliverables.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.OrderWithCard, error) {
	order, err := s.Store.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}

	result := &models.OrderWithCard{Order: *order, Deliverables: []models.Deliverable{}}
	card, err := s.Store.GetCardByOrderID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return nil, fmt.Errorf("load card for order %d: %w", id, err)
	}
	result.Card = card

	deliverables, err := s.Store.GetDeliverablesByCard(ctx, card.ID)
	if err != nil {
		return nil, fmt.Errorf("load deliverables for card %d: %w", card.ID, err)
	}
	if deliverables != nil {
		result.Deliverables = deliverables
	}
	return result, nil
}

func (s *OrderService) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("user id %q: %w", userID, ErrValidation)
	}
	return s.Store.ListOrdersByUser(ctx, userID)
}

// QuotePackage returns the package as priced on the server.
func (s *OrderService) QuotePackage(ctx context.Context, packageID int64) (*models.Package, error) {
	pkg, err := s.Store.GetPackageByID(ctx, packageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %d: %w", packageID, ErrNotFound)
		}
		return nil, fmt.Errorf("load package %d: %w", packageID, err)
	}
	return pkg, nil
}
