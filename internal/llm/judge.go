package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

// ErrUnparseableVerdict is returned when the judge output has no JSON.
var ErrUnparseableVerdict = errors.New("grounding verdict not parseable")

// Judge asks a second model call whether a response is supported by
// its context.
type Judge struct {
	model     Model
	maxTokens int32
}

func NewJudge(model Model) *Judge {
	return &Judge{model: model, maxTokens: 512}
}

// CheckGrounding returns the claims in response that the context does
// not support. An empty slice means the response is grounded.
func (j *Judge) CheckGrounding(ctx context.Context, response string, chunks []workflow.ContextChunk) ([]string, error) {
	prompt, err := render(groundingTemplate, groundingData{Chunks: chunks, Response: response})
	if err != nil {
		return nil, fmt.Errorf("render grounding prompt: %w", err)
	}

	raw, err := j.model.Complete(ctx, Prompt{User: prompt, Temperature: 0, MaxTokens: j.maxTokens})
	if err != nil {
		return nil, err
	}

	verdict, ok := ExtractJSON(raw)
	if !ok {
		return nil, ErrUnparseableVerdict
	}
	grounded, present := verdict["is_grounded"].(bool)
	if !present || grounded {
		return nil, nil
	}

	claims := stringSlice(verdict, "unsupported_claims")
	if len(claims) == 0 {
		claims = []string{"response not supported by context"}
	}
	return claims, nil
}
