package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journeysync/journey"
)

func strPtr(s string) *string { return &s }

func newTestStore(t *testing.T) (*DocumentStore, *journey.Map) {
	t.Helper()
	ds := NewDocumentStore(NewMemoryStorage(), nil)
	m, err := ds.Create(context.Background(), "journey-1", "Onboarding", "")
	require.NoError(t, err)
	return ds, m
}

func createOp(id, title string, x float64) *journey.Operation {
	op := journey.NewOperation(journey.OpCreateTouchpoint, "user-a")
	op.Touchpoint = &journey.Touchpoint{
		ID:        id,
		Title:     title,
		Emotion:   journey.EmotionNeutral,
		Intensity: 5,
		XPosition: x,
		CreatedAt: op.Timestamp,
		UpdatedAt: op.Timestamp,
	}
	return op
}

func TestDocumentStore_Execute(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	m, err := ds.Execute(ctx, "journey-1", createOp("tp-1", "Sign up", 10))
	require.NoError(t, err)
	require.Len(t, m.Touchpoints, 1)

	// The applied state was persisted.
	loaded, err := ds.Get(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, m.Touchpoints, loaded.Touchpoints)

	h, err := ds.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	assert.Len(t, h.Operations, 1)
	assert.Len(t, h.UndoStack, 1)
	assert.Empty(t, h.RedoStack)
}

func TestDocumentStore_ExecuteUnknownDocument(t *testing.T) {
	ds := NewDocumentStore(NewMemoryStorage(), nil)

	_, err := ds.Execute(context.Background(), "ghost", createOp("tp-1", "X", 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDocumentStore_ExecuteInvalidOperation(t *testing.T) {
	ds, _ := newTestStore(t)

	op := journey.NewOperation(journey.OpUpdateTouchpoint, "user-a")
	_, err := ds.Execute(context.Background(), "journey-1", op)
	assert.Error(t, err)
}

func TestDocumentStore_BoundedHistory(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxHistory+1; i++ {
		_, err := ds.Execute(ctx, "journey-1", createOp(fmt.Sprintf("tp-%d", i), "T", float64(i)))
		require.NoError(t, err)
	}

	h, err := ds.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	require.Len(t, h.Operations, MaxHistory)
	// The oldest operation was evicted; the log starts at tp-1.
	assert.Equal(t, "tp-1", h.Operations[0].Touchpoint.ID)
	assert.Len(t, h.UndoStack, MaxUndo)
}

func TestDocumentStore_UndoRedoRoundTrip(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	_, err := ds.Execute(ctx, "journey-1", createOp("tp-1", "Sign up", 10))
	require.NoError(t, err)

	update := journey.NewOperation(journey.OpUpdateTouchpoint, "user-a")
	update.TouchpointID = "tp-1"
	update.Changes = &journey.TouchpointChanges{Title: strPtr("Registration")}
	executed, err := ds.Execute(ctx, "journey-1", update)
	require.NoError(t, err)
	require.Equal(t, "Registration", executed.Touchpoints["tp-1"].Title)

	undone, err := ds.Undo(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "Sign up", undone.Touchpoints["tp-1"].Title)

	redone, err := ds.Redo(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "Registration", redone.Touchpoints["tp-1"].Title)

	// Redo pushed the operation back onto the undo stack.
	again, err := ds.Undo(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "Sign up", again.Touchpoints["tp-1"].Title)
}

func TestDocumentStore_UndoEmptyStackReturnsCurrentState(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	m, err := ds.Undo(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "journey-1", m.ID)

	m, err = ds.Redo(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "journey-1", m.ID)
}

func TestDocumentStore_UndoCreateTombstones(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	_, err := ds.Execute(ctx, "journey-1", createOp("tp-1", "Sign up", 10))
	require.NoError(t, err)

	undone, err := ds.Undo(ctx, "journey-1")
	require.NoError(t, err)
	require.NotNil(t, undone.Touchpoints["tp-1"])
	assert.True(t, undone.Touchpoints["tp-1"].Deleted())
	assert.Empty(t, undone.LiveTouchpoints())
}

func TestDocumentStore_ForwardExecuteClearsRedo(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	_, err := ds.Execute(ctx, "journey-1", createOp("tp-1", "A", 1))
	require.NoError(t, err)
	_, err = ds.Undo(ctx, "journey-1")
	require.NoError(t, err)

	h, err := ds.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	require.Len(t, h.RedoStack, 1)

	_, err = ds.Execute(ctx, "journey-1", createOp("tp-2", "B", 2))
	require.NoError(t, err)

	h, err = ds.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	assert.Empty(t, h.RedoStack, "a new forward operation clears the redo stack")
}

func TestDocumentStore_SetDocumentBypassesHistory(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	remote := journey.NewMap("journey-1", "Authority", "")
	remote.OperationCount = 999
	require.NoError(t, ds.SetDocument(ctx, remote))

	loaded, err := ds.Get(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "Authority", loaded.Title)
	assert.Equal(t, int64(999), loaded.OperationCount)

	h, err := ds.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	assert.Empty(t, h.Operations)
}

// failingStorage wraps a working backend but fails document writes.
type failingStorage struct {
	*MemoryStorage
	failPuts bool
}

func (f *failingStorage) Put(ctx context.Context, m *journey.Map) error {
	if f.failPuts {
		return errors.New("disk full")
	}
	return f.MemoryStorage.Put(ctx, m)
}

func TestDocumentStore_PersistenceFailureSurfaced(t *testing.T) {
	backend := &failingStorage{MemoryStorage: NewMemoryStorage()}
	ds := NewDocumentStore(backend, nil)
	ctx := context.Background()

	_, err := ds.Create(ctx, "journey-1", "Onboarding", "")
	require.NoError(t, err)

	backend.failPuts = true
	_, err = ds.Execute(ctx, "journey-1", createOp("tp-1", "X", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDocumentStore_CreateKeepsExistingState(t *testing.T) {
	ds, _ := newTestStore(t)
	ctx := context.Background()

	// Two first-access callers can both observe a missing document; the
	// late Create must return the existing document instead of wiping the
	// state and history committed since the first one.
	_, err := ds.Execute(ctx, "journey-1", createOp("tp-1", "Sign up", 10))
	require.NoError(t, err)

	m, err := ds.Create(ctx, "journey-1", "Onboarding", "")
	require.NoError(t, err)
	require.Contains(t, m.Touchpoints, "tp-1")

	_, err = ds.Execute(ctx, "journey-1", createOp("tp-2", "Verify email", 20))
	require.NoError(t, err)

	loaded, err := ds.Get(ctx, "journey-1")
	require.NoError(t, err)
	assert.Contains(t, loaded.Touchpoints, "tp-1")
	assert.Contains(t, loaded.Touchpoints, "tp-2")

	h, err := ds.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	assert.Len(t, h.Operations, 2)
	assert.Len(t, h.UndoStack, 2)
}
