// Package message defines the wire envelopes exchanged between agents, the
// game master, and spectators. Every payload travels inside an Envelope whose
// messageKind discriminator selects the typed content; Decode turns an
// envelope into the corresponding sum-type variant so callers can switch
// exhaustively.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the messageKind discriminator string.
type Kind string

// The enumerated message kinds. These strings are the externally visible
// contract and must not change.
const (
	KindAgentMessage       Kind = "agentMessage"
	KindGmMessage          Kind = "gmMessage"
	KindObservationMessage Kind = "observationMessage"
	KindPublicChat         Kind = "publicChatMessage"
	KindSystemNotification Kind = "systemNotification"
	KindParticipantCount   Kind = "participantCount"
	KindHeartbeat          Kind = "heartbeat"
)

// ErrUnknownKind is returned when an envelope carries an unrecognised
// messageKind discriminator.
var ErrUnknownKind = errors.New("unknown message kind")

// ErrMalformedContent is returned when an envelope's content does not decode
// into the shape its kind requires.
var ErrMalformedContent = errors.New("malformed message content")

// Envelope is the common wrapper around every inbound message. The signature
// covers the raw content bytes and is verified before any routing decision.
type Envelope struct {
	Kind      Kind            `json:"messageKind"`
	Sender    string          `json:"sender"`
	Signature string          `json:"signature"`
	Content   json.RawMessage `json:"content"`
}

// Message is the sum type over all decoded message contents. Exactly the
// types in this package implement it.
type Message interface {
	messageKind() Kind
}

// AgentContent is an agent-to-room message subject to PvP effect processing.
type AgentContent struct {
	RoomID    string `json:"roomId"`
	RoundID   string `json:"roundId"`
	AgentID   string `json:"agentId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (AgentContent) messageKind() Kind { return KindAgentMessage }

// GmContent is a game-master message to explicit targets. GM messages bypass
// the effect engine entirely.
type GmContent struct {
	RoomID    string   `json:"roomId"`
	RoundID   string   `json:"roundId"`
	GmID      string   `json:"gmId"`
	Targets   []string `json:"targets"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
	// IgnoreErrors lets the GM push through round-eligibility failures
	// during cleanup; lookup failures are logged instead of blocking.
	IgnoreErrors bool `json:"ignoreErrors,omitempty"`
}

func (GmContent) messageKind() Kind { return KindGmMessage }

// ObservationContent is an informational broadcast to all round participants.
type ObservationContent struct {
	RoomID    string          `json:"roomId"`
	RoundID   string          `json:"roundId"`
	AgentID   string          `json:"agentId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (ObservationContent) messageKind() Kind { return KindObservationMessage }

// PublicChatContent is the spectator-facing record of one routing operation.
// Spectators see attempted sends and post-effect text even when delivery to
// agents was fully suppressed.
type PublicChatContent struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	RoundID   string `json:"roundId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	// PostEffectText maps target agent id to the text it actually received.
	// Empty when delivery was suppressed for every target.
	PostEffectText map[string]string `json:"postEffectText,omitempty"`
	// Effects is the raw status snapshot observed while routing, including
	// expired and unrecognised effects.
	Effects json.RawMessage `json:"effects,omitempty"`
}

func (PublicChatContent) messageKind() Kind { return KindPublicChat }

// SystemNotificationContent is a server-originated room notice, e.g. a round
// closing announcement.
type SystemNotificationContent struct {
	RoomID    string `json:"roomId"`
	RoundID   string `json:"roundId,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (SystemNotificationContent) messageKind() Kind { return KindSystemNotification }

// ParticipantCountContent announces the current spectator count of a room.
type ParticipantCountContent struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

func (ParticipantCountContent) messageKind() Kind { return KindParticipantCount }

// HeartbeatContent is a connection liveness message.
type HeartbeatContent struct {
	Timestamp int64 `json:"timestamp"`
}

func (HeartbeatContent) messageKind() Kind { return KindHeartbeat }

// Decode parses the envelope's content into the typed variant selected by its
// messageKind.
//
// Postcondition: Returns a non-nil Message on success; ErrUnknownKind for an
// unrecognised discriminator; ErrMalformedContent (wrapped) when the content
// bytes do not decode.
func Decode(env Envelope) (Message, error) {
	switch env.Kind {
	case KindAgentMessage:
		return decodeAs[AgentContent](env)
	case KindGmMessage:
		return decodeAs[GmContent](env)
	case KindObservationMessage:
		return decodeAs[ObservationContent](env)
	case KindPublicChat:
		return decodeAs[PublicChatContent](env)
	case KindSystemNotification:
		return decodeAs[SystemNotificationContent](env)
	case KindParticipantCount:
		return decodeAs[ParticipantCountContent](env)
	case KindHeartbeat:
		return decodeAs[HeartbeatContent](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

func decodeAs[T Message](env Envelope) (Message, error) {
	var content T
	if err := json.Unmarshal(env.Content, &content); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrMalformedContent, env.Kind, err)
	}
	return content, nil
}

// Outbound wraps a kind-tagged payload for fan-out to spectators or agents.
type Outbound struct {
	Kind      Kind   `json:"messageKind"`
	Sender    string `json:"sender"`
	Signature string `json:"signature,omitempty"`
	Content   any    `json:"content"`
}

// NewOutbound builds an outbound envelope for the given content.
//
// Precondition: content must be one of this package's content types.
func NewOutbound(sender string, content Message) Outbound {
	return Outbound{
		Kind:    content.messageKind(),
		Sender:  sender,
		Content: content,
	}
}
