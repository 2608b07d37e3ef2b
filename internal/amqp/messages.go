package amqp

import (
	"encoding/json"
	"time"
)

// EventImportCompleted announces that a bulk import finished and the
// integrity guard should run.
const EventImportCompleted = "import.completed"

// EventCategoryDeleted is published when a category and its allocations
// were removed.
const EventCategoryDeleted = "category.delete"

// LedgerEvent announces one committed ledger change to a sync collaborator.
// It carries identifiers only; consumers read the entity from the ledger.
type LedgerEvent struct {
	Kind      string    `json:"kind"`
	EntityID  string    `json:"entity_id,omitempty"`
	Month     string    `json:"month,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerEvent builds an event of the form "<entity>.<op>".
func NewLedgerEvent(entity, op, entityID, month string) *LedgerEvent {
	return &LedgerEvent{
		Kind:      entity + "." + op,
		EntityID:  entityID,
		Month:     month,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
