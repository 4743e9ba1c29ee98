package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journeysync/journey"
)

// adapterUnderTest exercises the Storage contract shared by every backend.
func adapterUnderTest(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	m := journey.NewMap("journey-1", "Onboarding", "desc")
	m.Touchpoints["tp-1"] = &journey.Touchpoint{
		ID:        "tp-1",
		Title:     "Sign up",
		Emotion:   journey.EmotionPositive,
		Intensity: 7,
		XPosition: 12.5,
	}
	require.NoError(t, s.Put(ctx, m))

	loaded, err := s.Get(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, m.Title, loaded.Title)
	require.Contains(t, loaded.Touchpoints, "tp-1")
	assert.Equal(t, "Sign up", loaded.Touchpoints["tp-1"].Title)

	_, err = s.GetHistory(ctx, "journey-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	h := NewHistory()
	op := journey.NewOperation(journey.OpDeleteTouchpoint, "user-a")
	op.TouchpointID = "tp-1"
	h.Record(op, nil)
	require.NoError(t, s.PutHistory(ctx, "journey-1", h))

	loadedHistory, err := s.GetHistory(ctx, "journey-1")
	require.NoError(t, err)
	require.Len(t, loadedHistory.Operations, 1)
	assert.Equal(t, op.OperationID, loadedHistory.Operations[0].OperationID)

	require.NoError(t, s.Delete(ctx, "journey-1"))
	_, err = s.Get(ctx, "journey-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetHistory(ctx, "journey-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStorage(t *testing.T) {
	adapterUnderTest(t, NewMemoryStorage())
}

func TestBoltStorage(t *testing.T) {
	s, err := OpenBoltStorage(filepath.Join(t.TempDir(), "journeys.db"))
	require.NoError(t, err)
	defer s.Close()

	adapterUnderTest(t, s)
}

func TestMemoryStorage_CopiesOnRead(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	m := journey.NewMap("journey-1", "Onboarding", "")
	require.NoError(t, s.Put(ctx, m))

	first, err := s.Get(ctx, "journey-1")
	require.NoError(t, err)
	first.Title = "mutated"

	second, err := s.Get(ctx, "journey-1")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding", second.Title)
}
