// Package protocol implements the cross-context message protocol that
// carries arbitration requests from the page context to the privileged
// broker and decisions back.
//
// Three message types exist: CHECK (page→broker), RESPONSE (broker→page)
// and CACHE_UPDATE (broker→page, a push into the page-side read-through
// cache so the next identical request skips the round trip). Requests and
// responses are correlated by a unique identifier; duplicates on either
// side are ignored rather than treated as errors.
package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/navguard/navguard/internal/heuristics"
)

// MessageType discriminates protocol messages.
type MessageType string

const (
	TypeCheck       MessageType = "CHECK"
	TypeResponse    MessageType = "RESPONSE"
	TypeCacheUpdate MessageType = "CACHE_UPDATE"
)

// HeuristicHints carries the page-side heuristic result alongside a CHECK
// so the broker can fold it into its own re-analysis.
type HeuristicHints struct {
	Score   int                 `json:"score"`
	Flagged bool                `json:"flagged"`
	Threats []heuristics.Threat `json:"threats,omitempty"`
}

// Message is the wire format shared by all three message types.
type Message struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	URL           string          `json:"url,omitempty"`
	Hints         *HeuristicHints `json:"heuristicHints,omitempty"`

	// RESPONSE fields
	Allowed *bool `json:"allowed,omitempty"`

	// CACHE_UPDATE fields
	SourceOrigin string `json:"sourceOrigin,omitempty"`
	TargetOrigin string `json:"targetOrigin,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Persistent   *bool  `json:"persistent,omitempty"`
}

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// Decode parses a wire message and validates its required fields.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks the per-type required fields.
func (m Message) Validate() error {
	switch m.Type {
	case TypeCheck:
		if m.URL == "" || m.CorrelationID == "" {
			return fmt.Errorf("CHECK requires url and correlationId")
		}
	case TypeResponse:
		if m.CorrelationID == "" || m.Allowed == nil {
			return fmt.Errorf("RESPONSE requires correlationId and allowed")
		}
	case TypeCacheUpdate:
		if m.SourceOrigin == "" || m.TargetOrigin == "" || m.Persistent == nil {
			return fmt.Errorf("CACHE_UPDATE requires sourceOrigin, targetOrigin and persistent")
		}
		if m.Decision != "ALLOW" && m.Decision != "DENY" {
			return fmt.Errorf("CACHE_UPDATE decision must be ALLOW or DENY, got %q", m.Decision)
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// NewResponse builds a RESPONSE for a correlation ID.
func NewResponse(correlationID string, allowed bool) Message {
	return Message{
		Type:          TypeResponse,
		CorrelationID: correlationID,
		Allowed:       &allowed,
	}
}

// NewCacheUpdate builds a CACHE_UPDATE push.
func NewCacheUpdate(sourceOrigin, targetOrigin, decision string, persistent bool) Message {
	return Message{
		Type:         TypeCacheUpdate,
		SourceOrigin: sourceOrigin,
		TargetOrigin: targetOrigin,
		Decision:     decision,
		Persistent:   &persistent,
	}
}
