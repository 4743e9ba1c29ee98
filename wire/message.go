// Package wire defines the JSON message envelope exchanged between sync
// clients and the relay, and the closed set of payload types it carries.
// Decoding happens at exactly one boundary: callers pass raw transport bytes
// to Decode and get back a typed payload or an error.
package wire

import (
	"encoding/json"

	"github.com/pkg/errors"

	"journeysync/journey"
)

// MessageType identifies an envelope payload variant.
type MessageType string

const (
	// TypeOperation carries a replicated document operation.
	TypeOperation MessageType = "operation"
	// TypePresence carries a participant's cursor position.
	TypePresence MessageType = "presence"
	// TypeSyncRequest asks the relay for the retained log and presence set.
	TypeSyncRequest MessageType = "sync_request"
	// TypeSyncResponse carries the retained log, presence set, and
	// optionally a full current-state snapshot.
	TypeSyncResponse MessageType = "sync_response"
	// TypeUserJoined announces a new participant.
	TypeUserJoined MessageType = "user_joined"
	// TypeUserLeft announces a departed participant.
	TypeUserLeft MessageType = "user_left"
)

// ErrUnknownType is returned when an envelope names a type outside the
// closed set.
var ErrUnknownType = errors.New("unknown message type")

// Message is the common wire envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// Cursor is a participant's position on the shared canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is a presence record. Each participant exclusively owns their
// own record, so presence updates cannot conflict.
type Participant struct {
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	Color    string  `json:"color"`
	Cursor   *Cursor `json:"cursor,omitempty"`
	LastSeen int64   `json:"lastSeen"`
}

// OperationPayload is the data of an operation message.
type OperationPayload struct {
	JourneyID   string             `json:"journeyId"`
	Operation   *journey.Operation `json:"operation"`
	OperationID string             `json:"operationId"`
}

// PresencePayload is the data of a presence message. UserID is empty on the
// way in (the sender is implied by the connection) and filled in by the
// relay on the broadcast out.
type PresencePayload struct {
	UserID string  `json:"userId,omitempty"`
	Cursor *Cursor `json:"cursor"`
}

// SyncRequestPayload is the (empty) data of a sync_request message.
type SyncRequestPayload struct{}

// SyncResponsePayload is the data of a sync_response message.
type SyncResponsePayload struct {
	Operations   []*OperationPayload `json:"operations"`
	Users        []*Participant      `json:"users"`
	CurrentState *journey.Map        `json:"currentState,omitempty"`
}

// UserJoinedPayload is the data of a user_joined message.
type UserJoinedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Color    string `json:"color"`
}

// UserLeftPayload is the data of a user_left message.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// NewMessage builds an envelope around the given payload, stamped with the
// current wall-clock time.
func NewMessage(msgType MessageType, payload any, userID string) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}
	return &Message{
		Type:      msgType,
		Data:      data,
		Timestamp: journey.Now(),
		UserID:    userID,
	}, nil
}

// Decode parses raw transport bytes into an envelope and its typed payload.
// An envelope naming a type outside the closed set fails with
// ErrUnknownType; callers log and drop such messages.
func Decode(raw []byte) (*Message, any, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode envelope")
	}

	payload, err := msg.Payload()
	if err != nil {
		return &msg, nil, err
	}
	return &msg, payload, nil
}

// Payload decodes the envelope data into its typed payload.
func (m *Message) Payload() (any, error) {
	switch m.Type {
	case TypeOperation:
		var p OperationPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode operation payload")
		}
		return &p, nil
	case TypePresence:
		var p PresencePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode presence payload")
		}
		return &p, nil
	case TypeSyncRequest:
		var p SyncRequestPayload
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, &p); err != nil {
				return nil, errors.Wrap(err, "failed to decode sync_request payload")
			}
		}
		return &p, nil
	case TypeSyncResponse:
		var p SyncResponsePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode sync_response payload")
		}
		return &p, nil
	case TypeUserJoined:
		var p UserJoinedPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode user_joined payload")
		}
		return &p, nil
	case TypeUserLeft:
		var p UserLeftPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return nil, errors.Wrap(err, "failed to decode user_left payload")
		}
		return &p, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "%q", m.Type)
}

// Encode serializes the envelope for the transport.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return data, nil
}
