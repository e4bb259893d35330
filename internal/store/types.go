package store

// Message row states for the optimistic-send lifecycle. A pending_local
// row is the immediately rendered copy of a user send; it becomes
// confirmed once the hosted store acknowledges the write.
const (
	StatePendingLocal = "pending_local"
	StateConfirmed    = "confirmed"
	StateFailed       = "failed"
)

// Deal is a cached copy of a hosted deal/email record, plus sidebar
// bookkeeping (last message preview).
type Deal struct {
	ID                 string
	FromName           string
	FromEmail          string
	Subject            string
	Summary            string
	Company            string
	Budget             string
	Status             string
	ReceivedAt         int64
	Labels             []string
	Tags               []string
	RelevanceScore     float64
	AIActivated        bool
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a cached transcript entry. MsgID is the server identifier for
// confirmed rows and the client-generated id for pending ones.
type Message struct {
	ID               int64
	DealID           string
	MsgID            string
	Author           string
	Body             string
	SuggestedActions []SuggestedAction
	State            string
	CreatedAt        int64
}

// SuggestedAction mirrors the hosted shape; stored JSON-encoded.
type SuggestedAction struct {
	Name        string `json:"action_name"`
	Description string `json:"action_desc"`
}

// Action is a cached reasoning-trace step attached to a message.
type Action struct {
	ActionID  string
	DealID    string
	MsgID     string
	Summary   string
	Actor     string
	Detail    string
	Type      string
	CreatedAt int64
}

// OutboundEntry tracks one optimistic send through
// queued -> sending -> confirmed/failed.
type OutboundEntry struct {
	ID           int64
	ClientMsgID  string
	DealID       string
	Body         string
	Status       string
	ErrorMessage string
	ServerMsgID  string
}
