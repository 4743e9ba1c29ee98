package journey

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OperationType identifies an operation variant.
type OperationType string

const (
	// OpCreateTouchpoint inserts a touchpoint by id.
	OpCreateTouchpoint OperationType = "create_touchpoint"
	// OpUpdateTouchpoint merges a partial change set into a touchpoint.
	OpUpdateTouchpoint OperationType = "update_touchpoint"
	// OpDeleteTouchpoint tombstones a touchpoint.
	OpDeleteTouchpoint OperationType = "delete_touchpoint"
	// OpUpdateMetadata merges title/description changes into the document.
	OpUpdateMetadata OperationType = "update_metadata"
	// OpDeleteJourney tombstones the whole document.
	OpDeleteJourney OperationType = "delete_journey"
)

// TouchpointChanges is a partial change set for a touchpoint. Nil fields are
// left untouched by the merge. A nil ImageData cannot distinguish "untouched"
// from "remove the attachment", so removal has its own signal: ClearImage
// drops the attachment and its metadata, and wins over ImageData when both
// are set.
type TouchpointChanges struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Emotion     *Emotion `json:"emotion,omitempty"`
	Intensity   *int     `json:"intensity,omitempty"`
	XPosition   *float64 `json:"xPosition,omitempty"`
	ImageData   []byte   `json:"imageData,omitempty"`
	ImageName   *string  `json:"imageName,omitempty"`
	ImageType   *string  `json:"imageType,omitempty"`
	ClearImage  bool     `json:"clearImage,omitempty"`
}

// HasImage reports whether the change set carries an attachment payload.
func (c *TouchpointChanges) HasImage() bool {
	return c != nil && len(c.ImageData) > 0
}

// StripImage removes the attachment payload and its metadata from the change
// set.
func (c *TouchpointChanges) StripImage() {
	if c == nil {
		return
	}
	c.ImageData = nil
	c.ImageName = nil
	c.ImageType = nil
}

// MetadataChanges is a partial change set for the document metadata.
type MetadataChanges struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Operation is a single replicable state change. Exactly one variant payload
// is set, selected by Type. Operations are the sole unit of replication and
// of undo/redo; OperationID deduplicates redelivered operations and keys
// reverse lookups.
type Operation struct {
	OperationID  string             `json:"operationId"`
	Type         OperationType      `json:"type"`
	Timestamp    int64              `json:"timestamp"`
	UserID       string             `json:"userId,omitempty"`
	Touchpoint   *Touchpoint        `json:"touchpoint,omitempty"`
	TouchpointID string             `json:"touchpointId,omitempty"`
	Changes      *TouchpointChanges `json:"changes,omitempty"`
	Meta         *MetadataChanges   `json:"meta,omitempty"`
}

// NewOperation creates an operation stamped with a fresh id and the current
// wall-clock time. The variant payload is filled in by the caller.
func NewOperation(opType OperationType, userID string) *Operation {
	return &Operation{
		OperationID: uuid.NewString(),
		Type:        opType,
		Timestamp:   Now(),
		UserID:      userID,
	}
}

// Validate checks that the variant payload matches the operation type.
func (op *Operation) Validate() error {
	if op == nil {
		return errors.New("nil operation")
	}
	switch op.Type {
	case OpCreateTouchpoint:
		if op.Touchpoint == nil {
			return errors.New("create_touchpoint requires a touchpoint")
		}
		if op.Touchpoint.ID == "" {
			return errors.New("create_touchpoint requires a touchpoint id")
		}
	case OpUpdateTouchpoint:
		if op.TouchpointID == "" {
			return errors.New("update_touchpoint requires a touchpoint id")
		}
		if op.Changes == nil {
			return errors.New("update_touchpoint requires a change set")
		}
	case OpDeleteTouchpoint:
		if op.TouchpointID == "" {
			return errors.New("delete_touchpoint requires a touchpoint id")
		}
	case OpUpdateMetadata:
		if op.Meta == nil {
			return errors.New("update_metadata requires a change set")
		}
	case OpDeleteJourney:
		// No payload.
	default:
		return errors.Errorf("unknown operation type: %s", op.Type)
	}
	return nil
}

// HasImage reports whether the operation carries an attachment payload in
// either variant position.
func (op *Operation) HasImage() bool {
	return op.Touchpoint.HasImage() || op.Changes.HasImage()
}

// StripImages removes attachment payloads from the operation. Used by the
// transport size guard; the rest of the operation is left untouched.
func (op *Operation) StripImages() {
	op.Touchpoint.StripImage()
	op.Changes.StripImage()
}

// Apply applies op to m and returns the resulting document. The input map is
// never mutated. Unknown targets are defensive no-ops: the clock still
// advances, but no fields change.
//
// Application order matters only for writes to the same field; operations on
// independent targets commute, and every variant is idempotent, so replaying
// an operation a second time (a relay echo, or a sync replay) cannot corrupt
// state.
func Apply(m *Map, op *Operation) *Map {
	out := m.Clone()

	switch op.Type {
	case OpCreateTouchpoint:
		if op.Touchpoint != nil && op.Touchpoint.ID != "" {
			tp := *op.Touchpoint
			if tp.ImageData != nil {
				tp.ImageData = append([]byte(nil), tp.ImageData...)
			}
			out.Touchpoints[tp.ID] = &tp
		}

	case OpUpdateTouchpoint:
		tp, ok := out.Touchpoints[op.TouchpointID]
		if !ok || tp.Deleted() {
			// Absent or tombstoned: the update is dropped rather than
			// resurrecting the record.
			break
		}
		mergeChanges(tp, op.Changes, op.Timestamp)

	case OpDeleteTouchpoint:
		tp, ok := out.Touchpoints[op.TouchpointID]
		if !ok || tp.Deleted() {
			// Re-deletes keep the first tombstone timestamp.
			break
		}
		ts := op.Timestamp
		tp.DeletedAt = &ts

	case OpUpdateMetadata:
		if op.Meta != nil {
			if op.Meta.Title != nil {
				out.Title = *op.Meta.Title
			}
			if op.Meta.Description != nil {
				out.Description = *op.Meta.Description
			}
		}

	case OpDeleteJourney:
		if out.DeletedAt == nil {
			ts := op.Timestamp
			out.DeletedAt = &ts
		}
	}

	out.UpdatedAt = op.Timestamp
	out.OperationCount = nextClock(out.OperationCount, op.Timestamp)
	return out
}

// nextClock advances the document's logical clock: strictly increasing, and
// never behind the operation's wall-clock timestamp.
func nextClock(current, timestamp int64) int64 {
	next := current + 1
	if timestamp > next {
		return timestamp
	}
	return next
}

func mergeChanges(tp *Touchpoint, c *TouchpointChanges, timestamp int64) {
	if c == nil {
		return
	}
	if c.Title != nil {
		tp.Title = *c.Title
	}
	if c.Description != nil {
		tp.Description = *c.Description
	}
	if c.Emotion != nil {
		tp.Emotion = *c.Emotion
	}
	if c.Intensity != nil {
		tp.Intensity = *c.Intensity
	}
	if c.XPosition != nil {
		tp.XPosition = *c.XPosition
	}
	if c.ClearImage {
		tp.ImageData = nil
		tp.ImageName = ""
		tp.ImageType = ""
	} else if c.ImageData != nil {
		tp.ImageData = append([]byte(nil), c.ImageData...)
	}
	if !c.ClearImage && c.ImageName != nil {
		tp.ImageName = *c.ImageName
	}
	if !c.ClearImage && c.ImageType != nil {
		tp.ImageType = *c.ImageType
	}
	tp.UpdatedAt = timestamp
}
