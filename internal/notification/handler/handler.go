// Package handler exposes notification listings, read marking, stats and
// the operator queue views. Queue endpoints and failed listings are
// staff-only; everything else is scoped to the authenticated user.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
	"github.com/bintocher/mgc-audits-backend/internal/platform/middleware"
	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
	"github.com/bintocher/mgc-audits-backend/pkg/httputil"
)

// Handler wires notification endpoints to the notification service.
type Handler struct {
	service  *notification.Service
	identity *identity.Service
	logger   *slog.Logger
}

func New(service *notification.Service, identitySvc *identity.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, identity: identitySvc, logger: logger}
}

// Register mounts authenticated notification endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/stats", h.HandleStats)
		r.Post("/read_all", h.HandleMarkAllRead)
		r.Post("/telegram/link-code", h.HandleIssueLinkCode)
		r.Get("/{id}", h.HandleGet)
		r.Post("/{id}/read", h.HandleMarkRead)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff(h.logger))
			r.Get("/failed", h.HandleListFailed)
			r.Get("/queue", h.HandleListQueue)
			r.Get("/queue/stats", h.HandleQueueStats)
			r.Delete("/{id}", h.HandleDelete)
		})
	})
}

// RegisterBot mounts the endpoint the Telegram bot backend calls to complete
// an account link. It carries its own service authentication, so it lives
// outside the user-token router.
func (h *Handler) RegisterBot(r chi.Router) {
	r.Post("/telegram/link", h.HandleLinkTelegram)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	filter := notification.ListFilter{UserID: &userID}
	q := r.URL.Query()
	if v := q.Get("event_type"); v != "" {
		filter.EventType = &v
	}
	if v := q.Get("entity_type"); v != "" {
		filter.EntityType = &v
	}
	if v := q.Get("is_read"); v != "" {
		isRead, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "is_read must be a boolean"))
			return
		}
		filter.IsRead = &isRead
	}
	filter.Offset = queryInt(q.Get("offset"), 0)
	filter.Limit = queryInt(q.Get("limit"), 100)

	notifications, err := h.service.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, notifications)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	n, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	claims := middleware.GetClaims(r.Context())
	if n.UserID != userID && !(claims.IsStaff || claims.IsSuperuser) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "notification belongs to another user"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	n, err := h.service.MarkRead(r.Context(), id, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	count, err := h.service.MarkAllRead(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"marked_read": count})
}

// HandleStats returns notification stats for the current user. Staff may
// pass user_id=<uuid> for another user or user_id=all for the global view.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	target := &userID
	if v := r.URL.Query().Get("user_id"); v != "" {
		claims := middleware.GetClaims(ctx)
		if !(claims.IsStaff || claims.IsSuperuser) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only staff may query other users' stats"))
			return
		}
		if v == "all" {
			target = nil
		} else {
			other, err := uuid.Parse(v)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "user_id must be a valid uuid or 'all'"))
				return
			}
			target = &other
		}
	}

	stats, err := h.service.Stats(ctx, target, queryInt(r.URL.Query().Get("days"), 7))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.service.ListFailed(r.Context(), queryInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, notifications)
}

func (h *Handler) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	var filter notification.QueueFilter
	q := r.URL.Query()
	if v := q.Get("notification_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "notification_id must be a valid uuid"))
			return
		}
		filter.NotificationID = &id
	}
	if v := q.Get("channel"); v != "" {
		ch, err := notification.ParseChannel(v)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Channel = &ch
	}
	if v := q.Get("status"); v != "" {
		st, err := notification.ParseQueueStatus(v)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Status = &st
	}
	filter.Offset = queryInt(q.Get("offset"), 0)
	filter.Limit = queryInt(q.Get("limit"), 100)

	items, err := h.service.ListQueue(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleIssueLinkCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	code, err := h.identity.IssueLinkCode(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"code": code})
}

type linkRequest struct {
	Code   string `json:"code"`
	ChatID string `json:"chat_id"`
}

func (h *Handler) HandleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.identity.LinkTelegram(r.Context(), req.Code, req.ChatID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

func currentUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid user id in token"))
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id must be a valid uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
