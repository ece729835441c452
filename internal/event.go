package internal

import "encoding/json"

// Event is the forwarding-facing view of an accepted delivery: what rule
// expressions evaluate against and what sink drivers publish.
type Event struct {
	Name       string                 `json:"name"`
	DeliveryID string                 `json:"delivery_id"`
	Action     string                 `json:"action,omitempty"`
	RawPayload json.RawMessage        `json:"payload"`
	Data       map[string]interface{} `json:"-"`
}

// flattened returns the dotted-path view of the payload used by rule
// evaluation, deriving it from RawPayload when not already set.
func (e Event) flattened() map[string]interface{} {
	if e.Data != nil {
		return e.Data
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(e.RawPayload, &decoded); err != nil {
		return map[string]interface{}{}
	}
	return Flatten(decoded)
}
