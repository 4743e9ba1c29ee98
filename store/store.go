package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"journeysync/journey"
)

// DocumentStore applies operations to persisted documents and maintains
// their operation history and undo/redo stacks.
//
// Persistence failures are surfaced to the caller without rolling back the
// in-memory application; the caller must treat such an error as "state may
// be inconsistent" and re-sync or retry.
type DocumentStore struct {
	storage Storage
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewDocumentStore creates a document store over the given storage backend.
func NewDocumentStore(storage Storage, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{storage: storage, logger: logger}
}

// Create persists an empty journey map with the given id, used on first
// access to a document id that has no stored state yet. When the document
// already exists it is returned as is: concurrent first-access callers must
// not wipe each other's committed operations.
func (s *DocumentStore) Create(ctx context.Context, id, title, description string) (*journey.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.storage.Get(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	m := journey.NewMap(id, title, description)
	if err := s.storage.Put(ctx, m); err != nil {
		return nil, errors.Wrap(err, "failed to persist new document")
	}
	if err := s.storage.PutHistory(ctx, id, NewHistory()); err != nil {
		return nil, errors.Wrap(err, "failed to persist new history")
	}

	s.logger.Debug("document created", zap.String("document_id", id))
	return m, nil
}

// Get loads the current document snapshot.
func (s *DocumentStore) Get(ctx context.Context, id string) (*journey.Map, error) {
	return s.storage.Get(ctx, id)
}

// GetHistory loads the document's operation history.
func (s *DocumentStore) GetHistory(ctx context.Context, id string) (*History, error) {
	h, err := s.storage.GetHistory(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewHistory(), nil
		}
		return nil, err
	}
	return h, nil
}

// Execute applies op to the document, records it in the history and undo
// stack, clears the redo stack, and persists both. It returns the updated
// snapshot. ErrNotFound is returned when the document does not exist.
func (s *DocumentStore) Execute(ctx context.Context, id string, op *journey.Operation) (*journey.Map, error) {
	if err := op.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid operation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// The inverse must be built against the pre-operation snapshot; prior
	// field values are gone once the operation is applied.
	var entry *UndoEntry
	if inv, ok := journey.Invert(m, op); ok {
		entry = &UndoEntry{Forward: op, Inverse: inv}
	}

	applied := journey.Apply(m, op)

	history, err := s.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	history.Record(op, entry)

	if err := s.storage.Put(ctx, applied); err != nil {
		return nil, errors.Wrap(err, "failed to persist document")
	}
	if err := s.storage.PutHistory(ctx, id, history); err != nil {
		return nil, errors.Wrap(err, "failed to persist history")
	}

	s.logger.Debug("operation executed",
		zap.String("document_id", id),
		zap.String("operation_id", op.OperationID),
		zap.String("operation_type", string(op.Type)),
		zap.Int64("operation_count", applied.OperationCount))

	return applied, nil
}

// Undo reverts the most recent undoable operation and pushes it onto the
// redo stack. An empty undo stack returns the current state unchanged. The
// inverse is applied through the normal operation semantics, so undoing an
// operation whose target has since been tombstoned degrades to a no-op. The
// inverse is not appended to the main operation log and is not replicated.
func (s *DocumentStore) Undo(ctx context.Context, id string) (*journey.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, ok := history.PopUndo()
	if !ok {
		return m, nil
	}

	reverted := journey.Apply(m, entry.Inverse)
	history.RedoStack = append(history.RedoStack, entry.Forward)

	if err := s.storage.Put(ctx, reverted); err != nil {
		return nil, errors.Wrap(err, "failed to persist document")
	}
	if err := s.storage.PutHistory(ctx, id, history); err != nil {
		return nil, errors.Wrap(err, "failed to persist history")
	}

	s.logger.Debug("operation undone",
		zap.String("document_id", id),
		zap.String("operation_id", entry.Forward.OperationID))

	return reverted, nil
}

// Redo re-applies the most recently undone operation and pushes it back onto
// the undo stack. An empty redo stack returns the current state unchanged.
func (s *DocumentStore) Redo(ctx context.Context, id string) (*journey.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	op, ok := history.PopRedo()
	if !ok {
		return m, nil
	}

	var entry *UndoEntry
	if inv, invOK := journey.Invert(m, op); invOK {
		entry = &UndoEntry{Forward: op, Inverse: inv}
	}

	applied := journey.Apply(m, op)
	if entry != nil {
		history.UndoStack = append(history.UndoStack, entry)
		if len(history.UndoStack) > MaxUndo {
			history.UndoStack = history.UndoStack[len(history.UndoStack)-MaxUndo:]
		}
	}

	if err := s.storage.Put(ctx, applied); err != nil {
		return nil, errors.Wrap(err, "failed to persist document")
	}
	if err := s.storage.PutHistory(ctx, id, history); err != nil {
		return nil, errors.Wrap(err, "failed to persist history")
	}

	s.logger.Debug("operation redone",
		zap.String("document_id", id),
		zap.String("operation_id", op.OperationID))

	return applied, nil
}

// SetDocument unconditionally overwrites the stored document, bypassing the
// operation and history machinery. It is used to install full-state
// snapshots received from the relay, which is treated as the authority for
// what happened while this replica was disconnected.
func (s *DocumentStore) SetDocument(ctx context.Context, m *journey.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Put(ctx, m); err != nil {
		return errors.Wrap(err, "failed to persist document")
	}

	s.logger.Debug("document overwritten from snapshot",
		zap.String("document_id", m.ID),
		zap.Int64("operation_count", m.OperationCount))
	return nil
}

// Delete removes the document and its history from storage.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Delete(ctx, id)
}
