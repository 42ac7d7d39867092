package llm

import (
	"strings"
	"text/template"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

const SystemPrompt = `You are a professional insurance customer support agent. Your role is to assist customers with their insurance queries accurately and empathetically.

## Rules
1. Accuracy First: Only provide information that is directly supported by the policy documents and context provided. NEVER fabricate policy details, coverage amounts, or claim statuses.
2. Citation Required: When referencing policy terms, cite the specific section (e.g., "As per Section 4.2 of your policy...").
3. Empathy: Acknowledge the customer's situation before providing solutions.
4. No Financial Promises: NEVER promise specific payout amounts, claim approvals, or coverage determinations. Use phrases like "Based on the policy terms, this may be covered under..."
5. Escalation: If you are unsure or the query involves legal matters, complaints, or sensitive issues, clearly state that you will escalate to a specialist.
6. PII Safety: Never include or repeat any personally identifiable information in your responses. Keep placeholders such as [POLICY_NUMBER_0] exactly as written.
7. Language: Respond in the same language the customer used.
`

var generationTemplate = template.Must(template.New("generation").Parse(`## Retrieved Context
{{range .Chunks}}### Source: {{.Source}} ({{.DocType}}){{if .Section}} — {{.Section}}{{end}}
{{.Content}}
---
{{end}}
## Customer Query
Channel: {{.Channel}}
Customer ID: {{.CustomerID}}
Query: {{.Query}}

## Instructions
Based ONLY on the retrieved context above, draft a response to the customer's query. If the context does not contain sufficient information to answer, respond with: "I want to make sure I give you accurate information. Let me connect you with a specialist who can help with this specific question."

Provide your response in the following JSON format:
{
    "draft_response": "<your response to the customer>",
    "cited_sections": ["<list of policy sections referenced>"],
    "confidence": <0.0 to 1.0>,
    "requires_escalation": <true/false>,
    "escalation_reason": "<reason if escalation needed, else null>"
}
`))

var classificationTemplate = template.Must(template.New("classification").Parse(`Classify the following insurance customer support message into exactly one of these categories:

Categories:
- GENERAL_INQUIRY: General questions about policies, coverage, or procedures
- POLICY_CHANGE: Requests to modify, cancel, renew, or update a policy
- COMPLAINT_MISSELLING: Complaints about the product, mis-selling allegations, or requests for compensation
- CLAIM_ISSUE: Questions or issues related to filing, tracking, or disputing claims

Message: {{.Message}}

Respond in JSON format:
{
    "intent": "<CATEGORY>",
    "confidence": <0.0 to 1.0>,
    "reasoning": "<brief explanation>"
}
`))

var groundingTemplate = template.Must(template.New("grounding").Parse(`You are a fact-checking assistant. Compare the AI-generated response against the provided context and determine if any claims in the response are NOT supported by the context.

## Context (Ground Truth)
{{range .Chunks}}{{.Content}}
---
{{end}}
## AI Response
{{.Response}}

## Instructions
For each claim in the response, check if it is supported by the context.
Respond in JSON:
{
    "is_grounded": <true/false>,
    "unsupported_claims": ["<list of claims not in context>"],
    "severity": "<low/medium/high>"
}
`))

type generationData struct {
	Chunks     []workflow.ContextChunk
	Channel    workflow.Channel
	CustomerID string
	Query      string
}

type groundingData struct {
	Chunks   []workflow.ContextChunk
	Response string
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderClassificationPrompt builds the zero-shot intent prompt.
func RenderClassificationPrompt(message string) (string, error) {
	return render(classificationTemplate, struct{ Message string }{message})
}
