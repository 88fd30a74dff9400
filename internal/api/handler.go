package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/RichardoC/office-gpt/internal/chat"
	"github.com/RichardoC/office-gpt/internal/db"
	"github.com/RichardoC/office-gpt/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	maxBodyBytes   = 1 << 20
	maxTitleLength = 255
)

// ConversationStore is what the handlers need from persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID int64, title, model string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	GetConversationDetail(ctx context.Context, id int64) (*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id int64, title string) error
	DeleteConversation(ctx context.Context, id int64) (bool, error)
}

// MessageSender runs one chat exchange.
type MessageSender interface {
	Send(ctx context.Context, conversationID int64, content string) (*models.Message, error)
}

type Handler struct {
	store  ConversationStore
	chat   MessageSender
	model  string
	logger *zap.Logger
}

// NewHandler wires the handlers. model is recorded on new conversations.
func NewHandler(store ConversationStore, sender MessageSender, model string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  store,
		chat:   sender,
		model:  model,
		logger: logger,
	}
}

type CreateConversationRequest struct {
	UserID int64 `json:"userId"`
}

type CreateConversationResponse struct {
	ID int64 `json:"id"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type ChatRequest struct {
	ConversationID int64  `json:"conversationId"`
	Message        string `json:"message"`
}

type StatusResponse struct {
	Status string `json:"status,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "healthy"})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userId")
	if !ok {
		return
	}

	conversations, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to fetch conversations", zap.Error(err), zap.Int64("userId", userID))
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.Int64("userId", userID))
	h.writeJSON(w, http.StatusOK, conversations)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	conversation, err := h.store.GetConversationDetail(r.Context(), convID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to fetch conversation detail", zap.Error(err), zap.Int64("conversationId", convID))
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch conversation detail")
		return
	}
	h.writeJSON(w, http.StatusOK, conversation)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		h.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	conversation, err := h.store.CreateConversation(r.Context(), req.UserID, models.DefaultTitle, h.model)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to create empty conversation", zap.Error(err), zap.Int64("userId", req.UserID))
		h.writeError(w, http.StatusInternalServerError, "Failed to create empty conversation")
		return
	}
	h.writeJSON(w, http.StatusCreated, CreateConversationResponse{ID: conversation.ID})
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ConversationID <= 0 {
		h.writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.chat.Send(r.Context(), req.ConversationID, req.Message)
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, "conversationId and message are required")
		return
	case errors.Is(err, chat.ErrConversationNotFound):
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, "Request cancelled")
		return
	case err != nil:
		// The exchanger already logged which step failed.
		h.writeError(w, http.StatusInternalServerError, "Failed to process chat message")
		return
	}
	h.writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if len([]rune(req.Title)) > maxTitleLength {
		h.writeError(w, http.StatusBadRequest, "title must be at most 255 characters")
		return
	}

	err := h.store.UpdateConversationTitle(r.Context(), convID, req.Title)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to update title", zap.Error(err), zap.Int64("conversationId", convID))
		h.writeError(w, http.StatusInternalServerError, "Failed to update title")
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Title updated successfully"})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	deleted, err := h.store.DeleteConversation(r.Context(), convID)
	if err != nil {
		h.logger.Error("Failed to delete conversation", zap.Error(err), zap.Int64("conversationId", convID))
		h.writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	h.logger.Debug("Deleted conversation", zap.Int64("conversationId", convID), zap.Bool("existed", deleted))
	h.writeJSON(w, http.StatusOK, MessageResponse{Message: "Conversation deleted successfully"})
}

// pathID parses a positive integer path variable, answering 400 otherwise.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.logger.Debug("Rejected request body", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
