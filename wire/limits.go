package wire

import (
	"encoding/json"

	"go.uber.org/zap"
)

// MaxMessageBytes is the hard transport ceiling per serialized message.
const MaxMessageBytes = 1 << 20

// EnforceLimit serializes msg and, when the result exceeds MaxMessageBytes,
// strips binary attachment payloads from the operations it carries and
// re-serializes. Attachments are never chunked or queued separately; an
// oversized message loses them, the remaining fields are untouched, and the
// degradation is logged rather than surfaced as an error.
//
// Messages that are still oversized after stripping (or that carry no
// attachments to strip) are returned as-is; the transport write decides
// their fate.
func EnforceLimit(msg *Message, logger *zap.Logger) ([]byte, error) {
	raw, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	if len(raw) <= MaxMessageBytes {
		return raw, nil
	}

	stripped, ok := stripAttachments(msg)
	if !ok {
		logger.Warn("message exceeds transport limit and has no attachments to strip",
			zap.String("message_type", string(msg.Type)),
			zap.Int("size", len(raw)))
		return raw, nil
	}

	reduced, err := stripped.Encode()
	if err != nil {
		return nil, err
	}

	logger.Warn("stripped oversized attachment payloads from message",
		zap.String("message_type", string(msg.Type)),
		zap.Int("original_size", len(raw)),
		zap.Int("reduced_size", len(reduced)))

	return reduced, nil
}

// stripAttachments returns a copy of msg with attachment payloads removed
// from its operation payloads. ok is false when the message type carries no
// operations or nothing was stripped.
func stripAttachments(msg *Message) (*Message, bool) {
	switch msg.Type {
	case TypeOperation:
		var p OperationPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, false
		}
		if p.Operation == nil || !p.Operation.HasImage() {
			return nil, false
		}
		p.Operation.StripImages()
		return replaceData(msg, &p)

	case TypeSyncResponse:
		var p SyncResponsePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, false
		}
		stripped := false
		for _, op := range p.Operations {
			if op.Operation != nil && op.Operation.HasImage() {
				op.Operation.StripImages()
				stripped = true
			}
		}
		if p.CurrentState != nil {
			for _, tp := range p.CurrentState.Touchpoints {
				if tp.HasImage() {
					stripped = true
				}
			}
			p.CurrentState.StripImages()
		}
		if !stripped {
			return nil, false
		}
		return replaceData(msg, &p)
	}
	return nil, false
}

func replaceData(msg *Message, payload any) (*Message, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	out := *msg
	out.Data = data
	return &out, true
}
