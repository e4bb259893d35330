package bus

import "time"

// Event kinds published by the client. Subscribers filter by namespace
// prefix, e.g. "message." receives every message event.
const (
	KindDealUpserted     = "deal.upserted"
	KindDealActivated    = "deal.activated"
	KindMessageUpserted  = "message.upserted"
	KindMessageConfirmed = "message.confirmed"
	KindMessageFailed    = "message.send_failed"
	KindTimelineStep     = "timeline.step"
	KindTimelineDone     = "timeline.done"
	KindSessionStatus    = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
