// Package chat runs one user turn of a conversation: auto-titling, storing
// the turn, building the bounded context and storing the assistant reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/office-gpt/internal/db"
	"github.com/RichardoC/office-gpt/internal/metrics"
	"github.com/RichardoC/office-gpt/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultContextLimit is how many of the newest messages are sent to
	// the provider.
	DefaultContextLimit = 10

	// FallbackReply is stored when the provider answers with empty content.
	FallbackReply = "I couldn't generate a response."
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrExchangeFailed       = errors.New("failed to process chat message")
)

// Store is the slice of the conversation store the exchange needs.
type Store interface {
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	HasMessages(ctx context.Context, conversationID int64) (bool, error)
	UpdateConversationTitle(ctx context.Context, id int64, title string) error
	SaveMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
}

// Completer produces the assistant reply for an ordered history.
type Completer interface {
	Complete(ctx context.Context, history []models.Message) (string, error)
}

type Exchanger struct {
	store        Store
	completer    Completer
	logger       *zap.Logger
	contextLimit int
	locks        *keyedMutex
}

type Option func(*Exchanger)

// WithContextLimit overrides DefaultContextLimit. Non-positive values are
// ignored.
func WithContextLimit(n int) Option {
	return func(e *Exchanger) {
		if n > 0 {
			e.contextLimit = n
		}
	}
}

func NewExchanger(store Store, completer Completer, logger *zap.Logger, opts ...Option) *Exchanger {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exchanger{
		store:        store,
		completer:    completer,
		logger:       logger,
		contextLimit: DefaultContextLimit,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send stores content as a user message, asks the provider for a reply and
// returns the stored assistant message. Sends to the same conversation are
// serialized; a send still waiting when ctx ends returns ctx's error. Nothing
// is rolled back when a later step fails.
func (e *Exchanger) Send(ctx context.Context, conversationID int64, content string) (*models.Message, error) {
	if conversationID <= 0 {
		return nil, fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	unlock, err := e.locks.Lock(ctx, conversationID)
	if err != nil {
		metrics.ChatExchanges.WithLabelValues("cancelled").Inc()
		e.logger.Debug("gave up waiting for conversation",
			zap.Int64("conversationId", conversationID), zap.Error(err))
		return nil, fmt.Errorf("waiting for conversation %d: %w", conversationID, err)
	}
	defer unlock()

	start := time.Now()
	reply, err := e.exchange(ctx, conversationID, content)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ChatExchanges.WithLabelValues(outcome).Inc()
	metrics.ChatExchangeDuration.Observe(time.Since(start).Seconds())
	return reply, err
}

func (e *Exchanger) exchange(ctx context.Context, conversationID int64, content string) (*models.Message, error) {
	log := e.logger.With(zap.Int64("conversationId", conversationID))

	if _, err := e.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, e.fail(log, "load conversation", err)
	}

	has, err := e.store.HasMessages(ctx, conversationID)
	if err != nil {
		return nil, e.fail(log, "check for existing messages", err)
	}
	if !has {
		title := DeriveTitle(content)
		if err := e.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
			// A missing title is cosmetic; the message still goes through.
			log.Warn("failed to set title from first message", zap.Error(err))
		} else {
			metrics.TitlesDerived.Inc()
		}
	}

	userMsg := &models.Message{ConvID: conversationID, Role: models.RoleUser, Content: content}
	if err := e.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, e.fail(log, "save user message", err)
	}

	history, err := e.store.RecentMessages(ctx, conversationID, e.contextLimit)
	if err != nil {
		return nil, e.fail(log, "load recent messages", err)
	}

	text, err := e.completer.Complete(ctx, history)
	if err != nil {
		return nil, e.fail(log, "generate completion", err)
	}
	if text == "" {
		text = FallbackReply
	}

	reply := &models.Message{ConvID: conversationID, Role: models.RoleAssistant, Content: text}
	if err := e.store.SaveMessage(ctx, reply); err != nil {
		return nil, e.fail(log, "save assistant message", err)
	}

	log.Debug("exchange complete",
		zap.Int64("userMessageId", userMsg.ID),
		zap.Int64("assistantMessageId", reply.ID),
		zap.Int("contextSize", len(history)))
	return reply, nil
}

func (e *Exchanger) fail(log *zap.Logger, step string, err error) error {
	log.Error("chat exchange failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrExchangeFailed, step, err)
}
