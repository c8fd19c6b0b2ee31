package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/dayquest/internal/domain"
	"github.com/ashureev/dayquest/internal/identity"
	"github.com/ashureev/dayquest/internal/progress"
	"github.com/ashureev/dayquest/internal/quest"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 16 << 10

// QuestHandler exposes the user actions over REST.
type QuestHandler struct {
	*Handler
}

// NewQuestHandler creates a new quest handler.
func NewQuestHandler(base *Handler) *QuestHandler {
	return &QuestHandler{Handler: base}
}

// RegisterRoutes registers quest routes.
func (h *QuestHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/progress", h.Progress)
		r.Post("/task", h.RequestTask)
		r.Post("/report", h.SubmitReport)
		r.Post("/reset", h.Reset)
		r.Post("/finish", h.Finish)
	})
}

type reportRequest struct {
	Text string `json:"text"`
}

type resetRequest struct {
	Mode string `json:"mode"`
}

// Status returns the user's record and the pending task, if any.
func (h *QuestHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, progress.Action{Kind: progress.RequestStatus})
}

// RequestTask issues the next task.
func (h *QuestHandler) RequestTask(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, progress.Action{Kind: progress.RequestTask})
}

// SubmitReport completes the pending task.
func (h *QuestHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.handle(w, r, progress.Action{Kind: progress.SubmitReport, Text: req.Text})
}

// Reset starts a new run.
func (h *QuestHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// No mode keeps the mode of the current run.
	var mode domain.Mode
	if req.Mode != "" {
		parsed, err := domain.ParseMode(req.Mode)
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = parsed
	}
	h.handle(w, r, progress.Action{Kind: progress.RequestReset, Mode: mode})
}

// Finish ends the run early.
func (h *QuestHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, progress.Action{Kind: progress.RequestFinish})
}

// Progress lists the accepted reports.
func (h *QuestHandler) Progress(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	entries, err := h.svc.Progress(r.Context(), userID)
	if err != nil {
		serviceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ProgressEntry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"total_days": h.svc.TotalDays(),
		"entries":    entries,
	})
}

func (h *QuestHandler) handle(w http.ResponseWriter, r *http.Request, action progress.Action) {
	userID := identity.UserIDFromContext(r.Context())
	res, err := h.svc.Handle(r.Context(), userID, action)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, statusCode(res.Outcome.Status), res)
}

// statusCode maps outcomes to HTTP: rejections are conflicts with the
// current state, except an empty report, which is a bad request.
func statusCode(s quest.Status) int {
	switch {
	case s == quest.StatusEmptyReport:
		return http.StatusBadRequest
	case s.Rejected():
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}
