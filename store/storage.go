// Package store owns canonical per-document state: it loads documents from a
// pluggable storage backend, applies operations, maintains the bounded
// operation history with undo/redo stacks, and persists the result.
package store

import (
	"context"

	"github.com/pkg/errors"

	"journeysync/journey"
)

// ErrNotFound is returned when a document does not exist in storage.
var ErrNotFound = errors.New("document not found")

const (
	// MaxHistory is the retained operation log cap per document.
	MaxHistory = 1000
	// MaxUndo is the undo stack cap per document.
	MaxUndo = 50
)

// UndoEntry pairs a forward operation with its inverse. The inverse is
// computed at execute time, against the snapshot the forward operation was
// applied to, because prior field values only exist there.
type UndoEntry struct {
	Forward *journey.Operation `json:"forward"`
	Inverse *journey.Operation `json:"inverse"`
}

// History is the per-document operation log plus undo/redo stacks. Entries
// are append-only and evicted oldest-first beyond the caps.
type History struct {
	Operations []*journey.Operation `json:"operations"`
	UndoStack  []*UndoEntry         `json:"undoStack"`
	RedoStack  []*journey.Operation `json:"redoStack"`
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Record appends a forward operation and its undo entry, clears the redo
// stack, and evicts beyond the retention caps.
func (h *History) Record(op *journey.Operation, entry *UndoEntry) {
	h.Operations = append(h.Operations, op)
	if len(h.Operations) > MaxHistory {
		h.Operations = h.Operations[len(h.Operations)-MaxHistory:]
	}
	if entry != nil {
		h.UndoStack = append(h.UndoStack, entry)
		if len(h.UndoStack) > MaxUndo {
			h.UndoStack = h.UndoStack[len(h.UndoStack)-MaxUndo:]
		}
	}
	h.RedoStack = nil
}

// PopUndo removes and returns the most recent undo entry.
func (h *History) PopUndo() (*UndoEntry, bool) {
	if len(h.UndoStack) == 0 {
		return nil, false
	}
	entry := h.UndoStack[len(h.UndoStack)-1]
	h.UndoStack = h.UndoStack[:len(h.UndoStack)-1]
	return entry, true
}

// PopRedo removes and returns the most recent redo operation.
func (h *History) PopRedo() (*journey.Operation, bool) {
	if len(h.RedoStack) == 0 {
		return nil, false
	}
	op := h.RedoStack[len(h.RedoStack)-1]
	h.RedoStack = h.RedoStack[:len(h.RedoStack)-1]
	return op, true
}

// Storage is the persistence collaborator consumed by the document store.
// Implementations return ErrNotFound (possibly wrapped) for absent keys.
type Storage interface {
	// Get loads a document by id.
	Get(ctx context.Context, id string) (*journey.Map, error)

	// Put stores a document, overwriting any existing one.
	Put(ctx context.Context, m *journey.Map) error

	// Delete removes a document.
	Delete(ctx context.Context, id string) error

	// GetHistory loads a document's operation history.
	GetHistory(ctx context.Context, id string) (*History, error)

	// PutHistory stores a document's operation history.
	PutHistory(ctx context.Context, id string, h *History) error

	// Close releases backend resources.
	Close() error
}
