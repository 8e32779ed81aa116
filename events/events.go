package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic is the routing key an outbox record is published under.
type Topic string

const (
	TopicQuoteCreated        Topic = "quote.created"
	TopicResponseSubmitted   Topic = "quote.response_submitted"
	TopicQuoteAccepted       Topic = "quote.accepted"
	TopicAwaitingPickup      Topic = "quote.awaiting_pickup"
	TopicPickupConfirmed     Topic = "quote.pickup_confirmed"
	TopicDocumentRegistered  Topic = "quote.document_registered"
	TopicDelayReported       Topic = "quote.delay_reported"
	TopicQuoteFinalized      Topic = "quote.finalized"
	TopicQuoteReturned       Topic = "quote.returned"
	TopicQuoteEvaluated      Topic = "quote.evaluated"
	TopicRenegotiationOpened Topic = "negotiation.opened"
	TopicCounterProposal     Topic = "negotiation.counter_proposal"
	TopicValueApproved       Topic = "negotiation.approved"
	TopicValueRejected       Topic = "negotiation.rejected"
	TopicChatMessage         Topic = "chat.message_posted"
	TopicDailyCodeGenerated  Topic = "carrier.daily_code_generated"
	TopicSettlementRecorded  Topic = "settlement.recorded"
)

// Event is a notification-producing fact written to the outbox in the same
// transaction as the state change it describes.
type Event struct {
	Topic       Topic
	AggregateID string
	Payload     map[string]any
}

// New builds an event with a non-nil payload.
func New(topic Topic, aggregateID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Topic: topic, AggregateID: aggregateID, Payload: payload}
}

// Body is the JSON message published to the broker.
func (e Event) Body() ([]byte, error) {
	b, err := json.Marshal(map[string]any{
		"topic":        e.Topic,
		"aggregate_id": e.AggregateID,
		"payload":      e.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", e.Topic, err)
	}
	return b, nil
}

// Record is an outbox row awaiting delivery.
type Record struct {
	ID          int64
	Topic       Topic
	AggregateID string
	Body        []byte
	Attempts    int
	CreatedAt   time.Time
}
