package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

type fakeModel struct {
	mu      sync.Mutex
	outputs []string
	err     error
	prompts []Prompt
}

func (f *fakeModel) Complete(_ context.Context, p Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	if len(f.outputs) == 0 {
		return "", nil
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func TestMarkTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"unavailable", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, true},
		{"rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, true},
		{"internal", genai.APIError{Code: 500}, true},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{"permission", genai.APIError{Code: 403}, false},
		{"not an api error", errors.New("dial tcp: refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := markTransient(fmt.Errorf("GenAI generate failed: %w", tt.err))
			assert.Equal(t, tt.transient, errors.Is(err, workflow.ErrTransient))
			assert.EqualError(t, err, "GenAI generate failed: "+tt.err.Error())
		})
	}
}
