package wire

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journeysync/journey"
)

func TestDecode_Operation(t *testing.T) {
	op := journey.NewOperation(journey.OpCreateTouchpoint, "user-a")
	op.Touchpoint = &journey.Touchpoint{ID: "tp-1", Title: "Sign up"}

	msg, err := NewMessage(TypeOperation, &OperationPayload{
		JourneyID:   "journey-1",
		Operation:   op,
		OperationID: op.OperationID,
	}, "user-a")
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)

	decoded, payload, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeOperation, decoded.Type)
	assert.Equal(t, "user-a", decoded.UserID)

	p, ok := payload.(*OperationPayload)
	require.True(t, ok)
	assert.Equal(t, "journey-1", p.JourneyID)
	assert.Equal(t, op.OperationID, p.OperationID)
	require.NotNil(t, p.Operation)
	assert.Equal(t, "tp-1", p.Operation.Touchpoint.ID)
}

func TestDecode_SyncRequestWithEmptyData(t *testing.T) {
	_, payload, err := Decode([]byte(`{"type":"sync_request","data":{},"timestamp":1}`))
	require.NoError(t, err)
	_, ok := payload.(*SyncRequestPayload)
	assert.True(t, ok)
}

func TestDecode_UnknownTypeRejected(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"teleport","data":{},"timestamp":1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecode_MalformedEnvelope(t *testing.T) {
	_, _, err := Decode([]byte(`{nope`))
	assert.Error(t, err)
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"operation","data":[1,2,3],"timestamp":1}`))
	assert.Error(t, err)
}

func TestDecode_PresenceVariants(t *testing.T) {
	// Outbound: cursor only, sender implied by the connection.
	_, payload, err := Decode([]byte(`{"type":"presence","data":{"cursor":{"x":3,"y":4}},"timestamp":1}`))
	require.NoError(t, err)
	p := payload.(*PresencePayload)
	assert.Empty(t, p.UserID)
	require.NotNil(t, p.Cursor)
	assert.Equal(t, float64(3), p.Cursor.X)

	// Inbound broadcast: relay filled in the sender.
	_, payload, err = Decode([]byte(`{"type":"presence","data":{"userId":"u1","cursor":{"x":1,"y":2}},"timestamp":1}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", payload.(*PresencePayload).UserID)
}

func TestDecode_SyncResponse(t *testing.T) {
	state := journey.NewMap("journey-1", "Onboarding", "")
	msg, err := NewMessage(TypeSyncResponse, &SyncResponsePayload{
		Users:        []*Participant{{UserID: "u1", UserName: "Ada", Color: "#ff6b6b"}},
		CurrentState: state,
	}, "")
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)

	_, payload, err := Decode(raw)
	require.NoError(t, err)
	p := payload.(*SyncResponsePayload)
	require.NotNil(t, p.CurrentState)
	assert.Equal(t, "journey-1", p.CurrentState.ID)
	require.Len(t, p.Users, 1)
	assert.Equal(t, "Ada", p.Users[0].UserName)
}

func TestMessage_EnvelopeFieldNames(t *testing.T) {
	msg, err := NewMessage(TypeUserLeft, &UserLeftPayload{UserID: "u1"}, "u1")
	require.NoError(t, err)

	raw, err := msg.Encode()
	require.NoError(t, err)

	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Contains(t, generic, "type")
	assert.Contains(t, generic, "data")
	assert.Contains(t, generic, "timestamp")
	assert.Contains(t, generic, "userId")
}
