package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// Prompt is one model invocation
type Prompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int32
}

// Model completes a prompt and returns the raw text output
type Model interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// GenAIModel calls Gemini through the Google GenAI SDK
type GenAIModel struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewGenAIModel creates a rate-limited GenAI client for text generation.
func NewGenAIModel(ctx context.Context, cfg config.GenAIConfig, logger *zap.Logger) (*GenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIModel{
		client:  client,
		model:   cfg.GenerationModel,
		limiter: newLimiter(cfg.RequestsPerSecond),
		log:     logger,
	}, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Complete sends p to the configured model.
func (m *GenAIModel) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.Temperature),
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = p.MaxTokens
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(p.User), cfg)
	if err != nil {
		return "", markTransient(fmt.Errorf("GenAI generate failed: %w", err))
	}

	text := resp.Text()
	m.log.Debug("model completion",
		zap.String("model", m.model),
		zap.Int("prompt_chars", len(p.User)),
		zap.Int("output_chars", len(text)))
	return text, nil
}

// markTransient flags rate limiting and server-side GenAI failures as
// retryable.
func markTransient(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return workflow.Transient(err)
	}
	return err
}
