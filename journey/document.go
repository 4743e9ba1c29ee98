// Package journey defines the journey map document model and the typed
// operations that replicate edits between participants.
//
// Conflict resolution is last-writer-wins in local receipt order: concurrent
// updates to the same field from different participants resolve to whichever
// update a replica applied last. Replicas that observe the same operations in
// different orders are therefore not guaranteed to converge on the final
// value of a contested field. Deletes are tombstones and always win over
// later updates to the same touchpoint.
package journey

import (
	"sort"
	"time"

	"github.com/jinzhu/copier"
)

// SchemaVersion is the current document schema version.
const SchemaVersion = 1

// Emotion represents the emotional tone of a touchpoint.
type Emotion string

const (
	// EmotionPositive marks a touchpoint as a positive experience.
	EmotionPositive Emotion = "positive"
	// EmotionNeutral marks a touchpoint as a neutral experience.
	EmotionNeutral Emotion = "neutral"
	// EmotionNegative marks a touchpoint as a negative experience.
	EmotionNegative Emotion = "negative"
)

// Valid reports whether e is one of the known emotion values.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionPositive, EmotionNeutral, EmotionNegative:
		return true
	}
	return false
}

// Touchpoint represents a single point along the journey axis.
type Touchpoint struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Emotion     Emotion `json:"emotion"`
	Intensity   int     `json:"intensity"`
	XPosition   float64 `json:"xPosition"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`

	// DeletedAt is the tombstone marker. A tombstoned touchpoint stays in
	// storage so late-arriving operations can detect the delete instead of
	// resurrecting the record.
	DeletedAt *int64 `json:"deletedAt,omitempty"`

	ImageData []byte `json:"imageData,omitempty"`
	ImageName string `json:"imageName,omitempty"`
	ImageType string `json:"imageType,omitempty"`
}

// Deleted reports whether the touchpoint has been tombstoned.
func (t *Touchpoint) Deleted() bool {
	return t != nil && t.DeletedAt != nil
}

// HasImage reports whether the touchpoint carries an attachment.
func (t *Touchpoint) HasImage() bool {
	return t != nil && len(t.ImageData) > 0
}

// StripImage removes the attachment payload and its metadata.
func (t *Touchpoint) StripImage() {
	if t == nil {
		return
	}
	t.ImageData = nil
	t.ImageName = ""
	t.ImageType = ""
}

// Map represents a journey map document: a titled collection of touchpoints
// keyed by id.
type Map struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Touchpoints map[string]*Touchpoint `json:"touchpoints"`
	CreatedAt   int64                  `json:"createdAt"`
	UpdatedAt   int64                  `json:"updatedAt"`
	DeletedAt   *int64                 `json:"deletedAt,omitempty"`

	// OperationCount is the document's logical clock. It advances to
	// max(count+1, operation timestamp) on every applied operation, so it is
	// non-decreasing and biased toward wall-clock time.
	OperationCount int64 `json:"operationCount"`

	SchemaVersion int `json:"schemaVersion"`
}

// NewMap creates an empty journey map.
func NewMap(id, title, description string) *Map {
	now := Now()
	return &Map{
		ID:            id,
		Title:         title,
		Description:   description,
		Touchpoints:   make(map[string]*Touchpoint),
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
}

// Clone returns a deep copy of the map. Apply works on clones so callers can
// hold on to prior snapshots.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := &Map{}
	if err := copier.CopyWithOption(out, m, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on type mismatches, which cannot happen for a
		// copy onto the same concrete type. Fall back to a manual copy so
		// Clone stays total.
		out = m.manualClone()
	}
	if out.Touchpoints == nil {
		out.Touchpoints = make(map[string]*Touchpoint)
	}
	return out
}

func (m *Map) manualClone() *Map {
	out := *m
	out.Touchpoints = make(map[string]*Touchpoint, len(m.Touchpoints))
	for id, tp := range m.Touchpoints {
		cp := *tp
		if tp.DeletedAt != nil {
			v := *tp.DeletedAt
			cp.DeletedAt = &v
		}
		if tp.ImageData != nil {
			cp.ImageData = append([]byte(nil), tp.ImageData...)
		}
		out.Touchpoints[id] = &cp
	}
	if m.DeletedAt != nil {
		v := *m.DeletedAt
		out.DeletedAt = &v
	}
	return &out
}

// Deleted reports whether the whole document has been tombstoned.
func (m *Map) Deleted() bool {
	return m != nil && m.DeletedAt != nil
}

// Touchpoint returns the touchpoint with the given id, tombstoned or not.
func (m *Map) Touchpoint(id string) (*Touchpoint, bool) {
	tp, ok := m.Touchpoints[id]
	return tp, ok
}

// LiveTouchpoints returns the non-tombstoned touchpoints ordered along the
// journey axis.
func (m *Map) LiveTouchpoints() []*Touchpoint {
	live := make([]*Touchpoint, 0, len(m.Touchpoints))
	for _, tp := range m.Touchpoints {
		if !tp.Deleted() {
			live = append(live, tp)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].XPosition != live[j].XPosition {
			return live[i].XPosition < live[j].XPosition
		}
		return live[i].ID < live[j].ID
	})
	return live
}

// StripImages removes attachment payloads from every touchpoint.
func (m *Map) StripImages() {
	for _, tp := range m.Touchpoints {
		tp.StripImage()
	}
}

// Now returns the current wall-clock time in unix milliseconds, the timestamp
// unit used throughout the wire protocol and the logical clock.
func Now() int64 {
	return time.Now().UnixMilli()
}
