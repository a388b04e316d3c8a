package amqp

import (
	"encoding/json"
	"time"
)

// LedgerEventMessage is the wire form of a committed ledger mutation. It
// carries identifiers only; consumers fetch current state from the store,
// so a stale message can never overwrite a newer balance.
type LedgerEventMessage struct {
	Tenant     string    `json:"tenant"`
	EntryID    string    `json:"entry_id"`
	Kind       string    `json:"kind"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(tenant, entryID, kind, actor string, occurredAt time.Time) *LedgerEventMessage {
	return &LedgerEventMessage{
		Tenant:     tenant,
		EntryID:    entryID,
		Kind:       kind,
		Actor:      actor,
		OccurredAt: occurredAt,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON creates a message from JSON bytes
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
