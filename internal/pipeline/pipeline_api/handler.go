package pipeline_api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vidflow/internal/auth"
	"vidflow/internal/delivery"
	"vidflow/internal/logger"
	"vidflow/internal/models"
	"vidflow/internal/notify"
	"vidflow/internal/pipeline"
	"vidflow/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Pipeline *pipeline.Service
	Delivery *delivery.Service
	Logger   *logger.Logger
}

func NewHandler(pipelineService *pipeline.Service, deliveryService *delivery.Service, log *logger.Logger) *Handler {
	return &Handler{
		Pipeline: pipelineService,
		Delivery: deliveryService,
		Logger:   log,
	}
}

// RegisterCustomerRoutes mounts the buyer download redirect. r must carry
// auth.Middleware.
func (h *Handler) RegisterCustomerRoutes(r chi.Router) {
	r.Get("/deliverables/{deliverableId}/download", h.Download)
}

// RegisterRoutes mounts the staff board under r. Callers guard r with
// auth.RequireRole.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/pipeline", h.GetBoard)
	r.Get("/pipeline/stale", h.GetStaleCards)
	r.Put("/pipeline/cards/{cardId}/stage", h.MoveCard)
	r.Put("/pipeline/cards/{cardId}/assignee", h.AssignCard)
	r.Post("/pipeline/cards/{cardId}/verify-links", h.VerifyLinks)
	r.Post("/pipeline/cards/{cardId}/deliver", h.Deliver)
	r.Put("/deliverables/{deliverableId}/link", h.SetLink)
}

type column struct {
	Stage    models.Stage          `json:"stage"`
	Progress int                   `json:"progress"`
	Cards    []models.PipelineCard `json:"cards"`
}

func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.Pipeline.Board(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetBoard: %v", err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load the board", "internal error"))
		return
	}

	columns := make([]column, 0, len(models.Stages))
	for _, stage := range models.Stages {
		columns = append(columns, column{Stage: stage, Progress: pipeline.Progress(stage), Cards: board[stage]})
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Pipeline board", columns))
}

func (h *Handler) GetStaleCards(w http.ResponseWriter, r *http.Request) {
	olderThan := 72 * time.Hour
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid olderThan", "expected a positive duration such as 48h"))
			return
		}
		olderThan = d
	}

	cards, err := h.Pipeline.StaleCards(r.Context(), olderThan)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetStaleCards: %v", err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load stale cards", "internal error"))
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Stale cards", cards))
}

func (h *Handler) MoveCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := h.pathID(w, r, "cardId")
	if !ok {
		return
	}
	var body struct {
		Stage string `json:"stage"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("MoveCard: cardId=%d stage=%s", cardID, body.Stage))

	card, err := h.Pipeline.MoveCard(r.Context(), cardID, body.Stage)
	if err != nil {
		h.fail(w, "MoveCard", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Card moved", card))
}

func (h *Handler) AssignCard(w http.ResponseWriter, r *http.Request) {
	cardID, ok := h.pathID(w, r, "cardId")
	if !ok {
		return
	}
	var body struct {
		Assignee string `json:"assignee"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	card, err := h.Pipeline.AssignCard(r.Context(), cardID, body.Assignee)
	if err != nil {
		h.fail(w, "AssignCard", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Card assigned", card))
}

func (h *Handler) SetLink(w http.ResponseWriter, r *http.Request) {
	deliverableID, ok := h.pathID(w, r, "deliverableId")
	if !ok {
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	d, err := h.Delivery.SetLink(r.Context(), deliverableID, body.URL)
	if err != nil {
		h.fail(w, "SetLink", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Link saved", d))
}

func (h *Handler) VerifyLinks(w http.ResponseWriter, r *http.Request) {
	cardID, ok := h.pathID(w, r, "cardId")
	if !ok {
		return
	}

	check, err := h.Delivery.VerifyLinks(r.Context(), cardID)
	if err != nil {
		h.fail(w, "VerifyLinks", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Links checked", check))
}

func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	cardID, ok := h.pathID(w, r, "cardId")
	if !ok {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	messageID, err := h.Delivery.NotifyDelivered(r.Context(), cardID, body.Email)
	if err != nil {
		h.fail(w, "Deliver", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Delivery email sent", map[string]string{"messageId": messageID}))
}

// Download redirects the buyer to the file and stamps downloaded_at.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	deliverableID, ok := h.pathID(w, r, "deliverableId")
	if !ok {
		return
	}

	link, err := h.Delivery.OpenDownload(r.Context(), deliverableID, auth.UserID(r.Context()), auth.IsStaff(r.Context()))
	if err != nil {
		if errors.Is(err, delivery.ErrNotOwner) {
			h.Logger.LogSecurity("DOWNLOAD", fmt.Sprintf("user %s denied deliverable %d", auth.UserID(r.Context()), deliverableID))
			h.write(w, http.StatusNotFound, utils.ErrorResponse("Download failed", "deliverable not found"))
			return
		}
		h.fail(w, "Download", err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid "+param, chi.URLParam(r, param)))
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownStage),
		errors.Is(err, delivery.ErrInvalidLink),
		errors.Is(err, notify.ErrNoRecipient):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrCardNotFound),
		errors.Is(err, delivery.ErrCardNotFound),
		errors.Is(err, delivery.ErrDeliverableNotFound):
		return http.StatusNotFound
	case errors.Is(err, delivery.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.write(w, status, utils.ErrorResponse(op+" failed", "internal error"))
		return
	}
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	h.write(w, status, utils.ErrorResponse(op+" failed", err.Error()))
}

func (h *Handler) write(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
