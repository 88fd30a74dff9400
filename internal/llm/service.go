package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/office-gpt/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when the provider answers without any choice.
var ErrEmptyResponse = errors.New("completion provider returned no choices")

type Config struct {
	BaseURL     string
	Token       string
	Model       string
	Timeout     time.Duration
	CountTokens bool
}

type Service struct {
	llm     llms.Model
	model   string
	timeout time.Duration
	tokens  *TokenCounter
	logger  *zap.Logger
}

// New builds a Service backed by an OpenAI-compatible endpoint.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return NewWithModel(client, cfg, logger), nil
}

// NewWithModel wraps an existing langchaingo model. Only the Model, Timeout
// and CountTokens fields of cfg are used.
func NewWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		llm:     model,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if cfg.CountTokens {
		s.tokens = NewTokenCounter(cfg.Model, logger)
	}
	return s
}

func (s *Service) Model() string {
	return s.model
}

// Complete sends the ordered history to the provider and returns the reply
// text. An empty reply is returned as-is.
func (s *Service) Complete(ctx context.Context, history []models.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		content = append(content, llms.TextParts(roleFor(msg.Role), msg.Content))
	}

	if n, ok := s.tokens.Count(history); ok {
		s.logger.Debug("estimated prompt size", zap.Int("tokens", n), zap.Int("messages", len(history)))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.llm.GenerateContent(ctx, content, llms.WithModel(s.model))
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", ErrEmptyResponse
	}

	choice := resp.Choices[0]
	s.logger.Debug("completion received",
		zap.String("model", s.model),
		zap.Duration("latency", time.Since(start)),
		zap.String("stopReason", choice.StopReason),
		zap.Any("usage", choice.GenerationInfo))
	return choice.Content, nil
}

// Ask sends a single prompt without any history.
func (s *Service) Ask(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt, llms.WithModel(s.model))
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	return completion, nil
}

func roleFor(role string) schema.ChatMessageType {
	if role == models.RoleAssistant {
		return schema.ChatMessageTypeAI
	}
	return schema.ChatMessageTypeHuman
}
