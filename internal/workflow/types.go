package workflow

import (
	"strconv"
	"strings"
	"time"
)

// Channel is the source channel of a ticket
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelChatbot  Channel = "chatbot"
)

// TicketStatus is the persisted lifecycle status of a ticket
type TicketStatus string

const (
	StatusReceived               TicketStatus = "received"
	StatusProcessing             TicketStatus = "processing"
	StatusAwaitingClassification TicketStatus = "awaiting_classification"
	StatusClassified             TicketStatus = "classified"
	StatusRetrievingContext      TicketStatus = "retrieving_context"
	StatusGeneratingResponse     TicketStatus = "generating_response"
	StatusAwaitingReview         TicketStatus = "awaiting_review"
	StatusApproved               TicketStatus = "approved"
	StatusSent                   TicketStatus = "sent"
	StatusResolved               TicketStatus = "resolved"
	StatusReopened               TicketStatus = "reopened"
	StatusEscalated              TicketStatus = "escalated"
	StatusFailed                 TicketStatus = "failed"
)

// Ticket is a normalized customer message flowing through the pipeline
type Ticket struct {
	ID             string                `json:"ticketId"`
	Channel        Channel               `json:"channel"`
	CustomerID     string                `json:"customerId"`
	CustomerEmail  string                `json:"customerEmail,omitempty"`
	Subject        string                `json:"subject,omitempty"`
	MessageBody    string                `json:"messageBody"`
	RedactedBody   string                `json:"messageBodyRedacted,omitempty"`
	AttachmentText string                `json:"extractedAttachmentText,omitempty"`
	PIIMapping     map[string]string     `json:"piiMapping,omitempty"`
	Classification *IntentClassification `json:"classification,omitempty"`
	Status         TicketStatus          `json:"status"`
	Priority       string                `json:"priority,omitempty"`
	ReopenCount    int                   `json:"reopenCount,omitempty"`
	ReceivedAt     time.Time             `json:"receivedAt"`
}

// Query returns the text the core is allowed to send to models.
// Only the redacted body ever leaves the process.
func (t *Ticket) Query() string {
	if t.RedactedBody != "" {
		return t.RedactedBody
	}
	return t.MessageBody
}

// Intent is the closed set of supported query categories
type Intent string

const (
	IntentGeneralInquiry      Intent = "general_inquiry"
	IntentPolicyChange        Intent = "policy_change"
	IntentComplaintMisselling Intent = "complaint_misselling"
	IntentClaimIssue          Intent = "claim_issue"
)

// Intents lists every intent; IntentTable must carry an entry for each.
var Intents = []Intent{
	IntentGeneralInquiry,
	IntentPolicyChange,
	IntentComplaintMisselling,
	IntentClaimIssue,
}

// ParseIntent maps a model label such as "CLAIM_ISSUE" to an Intent.
func ParseIntent(label string) (Intent, bool) {
	normalized := Intent(strings.ToLower(strings.TrimSpace(label)))
	for _, i := range Intents {
		if i == normalized {
			return i, true
		}
	}
	return IntentGeneralInquiry, false
}

// IntentMetadata drives auto-response eligibility and priority
type IntentMetadata struct {
	AutoRespond          bool
	Priority             string
	RequiresVerification bool
}

// IntentTable is the static metadata side-table keyed by intent
var IntentTable = map[Intent]IntentMetadata{
	IntentGeneralInquiry:      {AutoRespond: true, Priority: "low"},
	IntentPolicyChange:        {AutoRespond: true, Priority: "medium", RequiresVerification: true},
	IntentComplaintMisselling: {AutoRespond: false, Priority: "high", RequiresVerification: true},
	IntentClaimIssue:          {AutoRespond: false, Priority: "high", RequiresVerification: true},
}

// AutoEligibleConfidence is the minimum confidence for auto-response
const AutoEligibleConfidence = 0.90

// IntentClassification is the result of classifying a customer message
type IntentClassification struct {
	Intent              Intent   `json:"intent"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	EscalationTriggered bool     `json:"escalation_triggered"`
	EscalationKeywords  []string `json:"escalation_keywords_found"`
	ForceHITL           bool     `json:"force_hitl"`
}

// IsAutoEligible reports whether the ticket may skip human review.
func (c IntentClassification) IsAutoEligible() bool {
	if c.ForceHITL || c.EscalationTriggered {
		return false
	}
	meta, ok := IntentTable[c.Intent]
	if !ok {
		return false
	}
	return meta.AutoRespond && c.Confidence >= AutoEligibleConfidence
}

// Priority returns the intent priority, "medium" for unknown intents.
func (c IntentClassification) Priority() string {
	if meta, ok := IntentTable[c.Intent]; ok {
		return meta.Priority
	}
	return "medium"
}

// IsHighRisk reports intents that always need a human.
func (i Intent) IsHighRisk() bool {
	return i == IntentComplaintMisselling || i == IntentClaimIssue
}

// ContextChunk is one retrieved piece of grounding text
type ContextChunk struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	DocType string  `json:"doc_type"`
	Section string  `json:"section"`
	Score   float64 `json:"score"`
}

// RetrievalContext is the assembled RAG context for one query
type RetrievalContext struct {
	Chunks               []ContextChunk `json:"chunks"`
	HasSufficientContext bool           `json:"has_sufficient_context"`
	MaxSimilarityScore   float64        `json:"max_similarity_score"`
	TotalChunksSearched  int            `json:"total_chunks_searched"`
	IndicesSearched      []string       `json:"indices_searched"`
}

// FormattedContext renders the chunks for prompt injection.
func (rc *RetrievalContext) FormattedContext() string {
	if rc == nil || len(rc.Chunks) == 0 {
		return "[No relevant context found]"
	}
	parts := make([]string, 0, len(rc.Chunks))
	for i, c := range rc.Chunks {
		parts = append(parts, "### Context "+strconv.Itoa(i+1)+" — "+c.Source+" ("+c.DocType+")\n"+c.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// DraftResponse is a generated reply awaiting approval
type DraftResponse struct {
	TicketID           string    `json:"ticket_id"`
	Text               string    `json:"draft_text"`
	CitedSections      []string  `json:"cited_sections"`
	Confidence         float64   `json:"confidence"`
	RequiresEscalation bool      `json:"requires_escalation"`
	EscalationReason   string    `json:"escalation_reason,omitempty"`
	ContextChunksUsed  int       `json:"context_chunks_used"`
	IsGrounded         bool      `json:"is_grounded"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// ReviewDecision is the outcome of an approval
type ReviewDecision string

const (
	DecisionApproved  ReviewDecision = "approved"
	DecisionEdited    ReviewDecision = "edited"
	DecisionRejected  ReviewDecision = "rejected"
	DecisionEscalated ReviewDecision = "escalated"
)

// Valid reports whether d is one of the known decisions.
func (d ReviewDecision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionEdited, DecisionRejected, DecisionEscalated:
		return true
	}
	return false
}

// AutoReviewer is the reviewer identity recorded for auto-approvals
const AutoReviewer = "auto"

// ApprovedResponse is the final text cleared for sending
type ApprovedResponse struct {
	TicketID   string         `json:"ticket_id"`
	FinalText  string         `json:"final_text"`
	ReviewedBy string         `json:"reviewed_by"`
	Decision   ReviewDecision `json:"review_decision"`
	EditDiff   string         `json:"edit_diff,omitempty"`
	ApprovedAt time.Time      `json:"approved_at"`
}

// FeedbackType is a customer follow-up signal
type FeedbackType string

const (
	FeedbackPositive FeedbackType = "positive"
	FeedbackNegative FeedbackType = "negative"
	FeedbackReopen   FeedbackType = "reopen"
)

// FeedbackSignal is the training record emitted for every follow-up
type FeedbackSignal struct {
	TicketID        string       `json:"ticket_id"`
	FeedbackType    FeedbackType `json:"feedback"`
	CustomerMessage string       `json:"customer_message,omitempty"`
	OriginalQuery   string       `json:"query"`
	AIResponse      string       `json:"response"`
	HumanEdited     bool         `json:"human_edited"`
	Timestamp       time.Time    `json:"timestamp"`
}
