// Package handler wires the workflow registry and transition validation
// endpoints. Registry writes are staff-only; reads and validation require
// any authenticated user.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/internal/platform/middleware"
	"github.com/bintocher/mgc-audits-backend/internal/workflow"
	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
	"github.com/bintocher/mgc-audits-backend/pkg/httputil"
)

// ActorResolver loads the acting user's flat role view for the validator.
type ActorResolver interface {
	ActorFor(ctx context.Context, userID uuid.UUID) (workflow.Actor, error)
}

// Handler exposes the workflow registry and validator over HTTP.
type Handler struct {
	service *workflow.Service
	actors  ActorResolver
	logger  *slog.Logger
}

func New(service *workflow.Service, actors ActorResolver, logger *slog.Logger) *Handler {
	return &Handler{service: service, actors: actors, logger: logger}
}

// Register mounts workflow endpoints on the router. The router is expected
// to already carry authentication middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/workflow", func(r chi.Router) {
		r.Get("/statuses", h.HandleListStatuses)
		r.Get("/statuses/initial", h.HandleGetInitialStatus)
		r.Get("/statuses/final", h.HandleListFinalStatuses)
		r.Get("/statuses/{id}", h.HandleGetStatus)

		r.Get("/transitions", h.HandleListTransitions)
		r.Get("/transitions/allowed", h.HandleListAllowedTransitions)
		r.Get("/transitions/{id}", h.HandleGetTransition)
		r.Post("/transitions/validate", h.HandleValidateTransition)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff(h.logger))
			r.Post("/statuses", h.HandleCreateStatus)
			r.Put("/statuses/{id}", h.HandleUpdateStatus)
			r.Delete("/statuses/{id}", h.HandleDeleteStatus)
			r.Post("/transitions", h.HandleCreateTransition)
			r.Put("/transitions/{id}", h.HandleUpdateTransition)
			r.Delete("/transitions/{id}", h.HandleDeleteTransition)
		})
	})
}

func (h *Handler) HandleListStatuses(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "entity_type query parameter is required"))
		return
	}
	statuses, err := h.service.ListStatuses(r.Context(), entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statuses)
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleGetInitialStatus(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "entity_type query parameter is required"))
		return
	}
	status, err := h.service.GetInitialStatus(r.Context(), entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleListFinalStatuses(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "entity_type query parameter is required"))
		return
	}
	statuses, err := h.service.GetFinalStatuses(r.Context(), entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statuses)
}

type statusRequest struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	Color      string `json:"color"`
	EntityType string `json:"entity_type"`
	Order      int    `json:"order"`
	IsInitial  bool   `json:"is_initial"`
	IsFinal    bool   `json:"is_final"`
}

func (h *Handler) HandleCreateStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[statusRequest](w, r)
	if !ok {
		return
	}
	status := &workflow.Status{
		Name:       req.Name,
		Code:       req.Code,
		Color:      req.Color,
		EntityType: req.EntityType,
		Order:      req.Order,
		IsInitial:  req.IsInitial,
		IsFinal:    req.IsFinal,
	}
	if err := h.service.CreateStatus(r.Context(), status); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "status created",
		"status_id", status.ID,
		"entity_type", status.EntityType,
		"code", status.Code)
	httputil.WriteJSON(w, http.StatusCreated, status)
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decode[statusRequest](w, r)
	if !ok {
		return
	}
	status := &workflow.Status{
		ID:         id,
		Name:       req.Name,
		Code:       req.Code,
		Color:      req.Color,
		EntityType: req.EntityType,
		Order:      req.Order,
		IsInitial:  req.IsInitial,
		IsFinal:    req.IsFinal,
	}
	if err := h.service.UpdateStatus(r.Context(), status); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteStatus(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListTransitions(w http.ResponseWriter, r *http.Request) {
	transitions, err := h.service.ListTransitions(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transitions)
}

func (h *Handler) HandleGetTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	transition, err := h.service.GetTransition(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transition)
}

type transitionRequest struct {
	FromStatusID       uuid.UUID      `json:"from_status_id"`
	ToStatusID         uuid.UUID      `json:"to_status_id"`
	RequiredRoles      []string       `json:"required_roles"`
	RequiredFields     []string       `json:"required_fields"`
	RequireComment     bool           `json:"require_comment"`
	NotificationConfig map[string]any `json:"notification_config"`
	Color              string         `json:"color"`
}

func (h *Handler) HandleCreateTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[transitionRequest](w, r)
	if !ok {
		return
	}
	transition := &workflow.StatusTransition{
		FromStatusID:       req.FromStatusID,
		ToStatusID:         req.ToStatusID,
		RequiredRoles:      req.RequiredRoles,
		RequiredFields:     req.RequiredFields,
		RequireComment:     req.RequireComment,
		NotificationConfig: req.NotificationConfig,
		Color:              req.Color,
	}
	if err := h.service.CreateTransition(r.Context(), transition); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "transition created",
		"transition_id", transition.ID,
		"from_status_id", transition.FromStatusID,
		"to_status_id", transition.ToStatusID)
	httputil.WriteJSON(w, http.StatusCreated, transition)
}

func (h *Handler) HandleUpdateTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decode[transitionRequest](w, r)
	if !ok {
		return
	}
	transition := &workflow.StatusTransition{
		ID:                 id,
		FromStatusID:       req.FromStatusID,
		ToStatusID:         req.ToStatusID,
		RequiredRoles:      req.RequiredRoles,
		RequiredFields:     req.RequiredFields,
		RequireComment:     req.RequireComment,
		NotificationConfig: req.NotificationConfig,
		Color:              req.Color,
	}
	if err := h.service.UpdateTransition(r.Context(), transition); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transition)
}

func (h *Handler) HandleDeleteTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteTransition(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateRequest struct {
	FromStatusID uuid.UUID      `json:"from_status_id"`
	ToStatusID   uuid.UUID      `json:"to_status_id"`
	EntityData   map[string]any `json:"entity_data"`
	Comment      string         `json:"comment"`
}

type validateResponse struct {
	Allowed    bool                       `json:"allowed"`
	Transition *workflow.StatusTransition `json:"transition,omitempty"`
}

// HandleValidateTransition checks whether the acting user may move an entity
// between two statuses. Guard rejections come back as domain errors; a
// passing check returns the matched transition rule.
func (h *Handler) HandleValidateTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := h.resolveActor(w, ctx)
	if !ok {
		return
	}
	req, ok := decode[validateRequest](w, r)
	if !ok {
		return
	}

	transition, err := h.service.ValidateTransition(ctx, req.FromStatusID, req.ToStatusID, actor, req.EntityData, req.Comment)
	if err != nil {
		h.logger.InfoContext(ctx, "transition rejected",
			"request_id", middleware.GetRequestID(ctx),
			"from_status_id", req.FromStatusID,
			"to_status_id", req.ToStatusID,
			"actor_id", actor.ID,
			"error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, validateResponse{Allowed: true, Transition: transition})
}

func (h *Handler) HandleListAllowedTransitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := h.resolveActor(w, ctx)
	if !ok {
		return
	}
	fromStatusID, err := uuid.Parse(r.URL.Query().Get("from_status_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from_status_id query parameter must be a valid uuid"))
		return
	}

	transitions, err := h.service.ListAllowedTransitions(ctx, fromStatusID, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transitions)
}

func (h *Handler) resolveActor(w http.ResponseWriter, ctx context.Context) (workflow.Actor, bool) {
	claims := middleware.GetClaims(ctx)
	if claims == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return workflow.Actor{}, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid user id in token"))
		return workflow.Actor{}, false
	}
	actor, err := h.actors.ActorFor(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return workflow.Actor{}, false
	}
	return actor, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a valid uuid", name))
		return uuid.Nil, false
	}
	return id, true
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return v, false
	}
	return v, true
}
