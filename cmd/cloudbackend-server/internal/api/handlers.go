// Package api provides HTTP handlers for the cloudbackend server REST API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coregx/cloudbackend"
	"github.com/coregx/cloudbackend/model"
)

// Version is reported by the health endpoint.
const Version = "0.2.0"

// Handler holds dependencies for API handlers.
type Handler struct {
	manager    *cloudbackend.MessagingManager
	entities   cloudbackend.EntityService
	collection *cloudbackend.EntityCollection
	logger     cloudbackend.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	manager *cloudbackend.MessagingManager,
	entities cloudbackend.EntityService,
	logger cloudbackend.Logger,
) (*Handler, error) {
	var opts []cloudbackend.CollectionOption
	if manager != nil {
		opts = append(opts,
			cloudbackend.WithCollectionRegistry(manager.Registry()),
			cloudbackend.WithCollectionNotifier(cloudbackend.NotifierFunc(func(ctx context.Context, topicID string) error {
				manager.HandlePushNotification(ctx, topicID)
				return nil
			})),
		)
	}
	collection, err := cloudbackend.NewEntityCollection(entities, logger, opts...)
	if err != nil {
		return nil, err
	}
	return &Handler{
		manager:    manager,
		entities:   entities,
		collection: collection,
		logger:     logger,
	}, nil
}

// SendRequest represents a send message request.
type SendRequest struct {
	TopicID  string `json:"topicId"`
	Message  string `json:"message"`
	Duration int    `json:"duration"`
}

// PushResponse reports how many subscriptions a push notification reached.
type PushResponse struct {
	TopicID       string `json:"topicId"`
	Subscriptions int    `json:"subscriptions"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleSend handles POST /api/v1/messages
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	msg := h.manager.CreateMessage(req.TopicID)
	h.send(w, r, msg, req)
}

// HandleBroadcast handles POST /api/v1/messages/broadcast
func (h *Handler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	msg := h.manager.CreateBroadcastMessage()
	h.send(w, r, msg, req)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, msg model.Message, req SendRequest) {
	msg.Payload = req.Message
	msg.TTLSeconds = req.Duration

	sent, err := h.manager.Send(r.Context(), msg)
	if err != nil {
		h.respondServiceError(w, "Failed to send message", err)
		return
	}
	h.respondSuccess(w, http.StatusCreated, sent, "Message sent successfully")
}

// HandlePush handles POST /api/v1/push/{topicID}
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")
	if topicID == "" {
		h.respondError(w, http.StatusBadRequest, "topicID is required", "VALIDATION_ERROR")
		return
	}

	n := h.manager.HandlePushNotification(r.Context(), topicID)
	h.respondSuccess(w, http.StatusAccepted, PushResponse{TopicID: topicID, Subscriptions: n}, "")
}

// HandleListTopics handles GET /api/v1/topics
func (h *Handler) HandleListTopics(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, http.StatusOK, h.manager.Registry().Subscriptions(), "")
}

// HandleListEntities handles GET /api/v1/entities/{kind}?sortBy=&asc=&limit=
func (h *Handler) HandleListEntities(w http.ResponseWriter, r *http.Request) {
	q := model.NewQuery(chi.URLParam(r, "kind"))
	params := r.URL.Query()
	if sortBy := params.Get("sortBy"); sortBy != "" {
		asc, _ := strconv.ParseBool(params.Get("asc"))
		q = q.OrderBy(sortBy, asc)
	}
	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer", "VALIDATION_ERROR")
			return
		}
		q = q.WithLimit(n)
	}

	entities, err := h.collection.List(r.Context(), q)
	if err != nil {
		h.respondServiceError(w, "Failed to list entities", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, entities, "")
}

// HandleGetEntity handles GET /api/v1/entities/{kind}/{id}
func (h *Handler) HandleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.entities.Fetch(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, "Failed to fetch entity", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, e, "")
}

// HandleDeleteEntity handles DELETE /api/v1/entities/{kind}/{id}
func (h *Handler) HandleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	target := model.Entity{KindName: chi.URLParam(r, "kind"), ID: chi.URLParam(r, "id")}
	removed, err := h.collection.RemoveAll(r.Context(), []model.Entity{target})
	if err != nil {
		h.respondServiceError(w, "Failed to delete entity", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, removed[0], "Entity deleted")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"version":       Version,
		"subscriptions": h.manager.Registry().Len(),
		"inFlight":      h.manager.Dispatcher().InFlight(),
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

// respondServiceError maps a cloudbackend error to an HTTP status.
func (h *Handler) respondServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case cloudbackend.IsValidation(err):
		h.respondError(w, http.StatusBadRequest, err.Error(), cloudbackend.ErrCodeValidation)
	case cloudbackend.IsNotFound(err):
		h.respondError(w, http.StatusNotFound, err.Error(), cloudbackend.ErrCodeNotFound)
	default:
		h.logger.Errorf("%s: %v", message, err)
		h.respondError(w, http.StatusBadGateway, message, cloudbackend.ErrCodeTransport)
	}
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	writeError(w, status, message, code)
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}
