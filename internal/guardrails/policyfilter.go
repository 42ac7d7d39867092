package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const actionIntervened = "GUARDRAIL_INTERVENED"

type policyRequest struct {
	Source  Source `json:"source"`
	Content string `json:"content"`
}

type policyResponse struct {
	Action  string `json:"action"`
	Outputs []struct {
		Text string `json:"text"`
	} `json:"outputs"`
}

// HTTPPolicyFilter calls a managed content-policy service over JSON.
type HTTPPolicyFilter struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPPolicyFilter(baseURL string, timeout time.Duration) *HTTPPolicyFilter {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPPolicyFilter{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPPolicyFilter) Check(ctx context.Context, text string, source Source) ([]string, error) {
	data, err := json.Marshal(policyRequest{Source: source, Content: text})
	if err != nil {
		return nil, fmt.Errorf("marshal policy filter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/apply", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create policy filter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call policy filter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy filter returned status %d", resp.StatusCode)
	}

	var out policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode policy filter response: %w", err)
	}

	if out.Action != actionIntervened {
		return nil, nil
	}
	violations := make([]string, 0, len(out.Outputs))
	for _, o := range out.Outputs {
		text := o.Text
		if text == "" {
			text = "blocked"
		}
		violations = append(violations, "Policy filter: "+text)
	}
	if len(violations) == 0 {
		violations = append(violations, "Policy filter: blocked")
	}
	return violations, nil
}
