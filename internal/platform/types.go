package platform

import (
	"encoding/json"
	"time"
)

// Message author roles. AuthorTimeline never reaches the hosted store; it
// marks the transient progress placeholder in the local transcript.
const (
	AuthorUser     = "user"
	AuthorAI       = "ai"
	AuthorTimeline = "timeline"
)

// Action type discriminators.
const (
	ActionStepOutput   = "step_output"
	ActionFinalKickoff = "final_start_colab_process"
)

// Deal is a brand-collaboration opportunity derived from a scanned email.
type Deal struct {
	ID             string    `json:"email_id"`
	UserID         string    `json:"user_id"`
	FromName       string    `json:"from_name"`
	FromEmail      string    `json:"from_email"`
	Subject        string    `json:"subject"`
	Summary        string    `json:"summary"`
	Company        string    `json:"company"`
	Budget         string    `json:"budget"`
	Status         string    `json:"status"`
	ReceivedAt     time.Time `json:"received_at"`
	Labels         []string  `json:"labels"`
	Tags           []string  `json:"tags"`
	RelevanceScore float64   `json:"relevance_score"`
	AIActivated    bool      `json:"ai_activated"`
}

// SuggestedAction is a pre-filled follow-up offered under an AI message.
// Clicking one sends its description as a normal user message.
type SuggestedAction struct {
	Name        string `json:"action_name"`
	Description string `json:"action_desc"`
}

// Message is one transcript entry for a deal. Immutable once created;
// ordered by creation time, ties broken by insertion sequence.
type Message struct {
	ID               string            `json:"id"`
	DealID           string            `json:"email_id"`
	UserID           string            `json:"user_id,omitempty"`
	Author           string            `json:"author"`
	Body             string            `json:"body"`
	CreatedAt        time.Time         `json:"created_at"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

// Action is one recorded step of the agent's visible reasoning trace,
// attached to a message and rendered as an ordered sub-timeline under it.
type Action struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	Summary   string          `json:"summary"`
	Actor     string          `json:"actor"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageWithActions groups a message with its reasoning trace. An empty
// Actions slice means no visible trace yet.
type MessageWithActions struct {
	Message Message
	Actions []Action
}

// ScanSummary aggregates a mailbox scan result.
type ScanSummary struct {
	TotalFound int            `json:"total_found"`
	ByLabel    map[string]int `json:"by_label"`
}

// ScanResult is the response of the backend's search-emails endpoint.
type ScanResult struct {
	Emails  []Deal      `json:"emails"`
	Summary ScanSummary `json:"summary"`
}
