package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvert_Create(t *testing.T) {
	m := testMap()
	op := createOp("tp-1", "Sign up", 10, 100)

	inv, ok := Invert(m, op)
	require.True(t, ok)
	require.Equal(t, OpDeleteTouchpoint, inv.Type)
	assert.Equal(t, "tp-1", inv.TouchpointID)

	undone := Apply(Apply(m, op), inv)
	assert.True(t, undone.Touchpoints["tp-1"].Deleted())
	assert.Empty(t, undone.LiveTouchpoints())
}

func TestInvert_UpdateCarriesPriorValues(t *testing.T) {
	m := Apply(testMap(), createOp("tp-1", "Sign up", 10, 100))

	op := NewOperation(OpUpdateTouchpoint, "user-a")
	op.TouchpointID = "tp-1"
	op.Changes = &TouchpointChanges{
		Title:     strPtr("Registration"),
		Emotion:   emoPtr(EmotionPositive),
		XPosition: floatPtr(42),
	}

	inv, ok := Invert(m, op)
	require.True(t, ok)
	require.Equal(t, OpUpdateTouchpoint, inv.Type)
	require.NotNil(t, inv.Changes)
	assert.Equal(t, "Sign up", *inv.Changes.Title)
	assert.Equal(t, EmotionNeutral, *inv.Changes.Emotion)
	assert.Equal(t, float64(10), *inv.Changes.XPosition)
	// Fields the update never touched are absent from the inverse.
	assert.Nil(t, inv.Changes.Intensity)
	assert.Nil(t, inv.Changes.Description)

	undone := Apply(Apply(m, op), inv)
	tp := undone.Touchpoints["tp-1"]
	assert.Equal(t, "Sign up", tp.Title)
	assert.Equal(t, EmotionNeutral, tp.Emotion)
	assert.Equal(t, float64(10), tp.XPosition)
}

func TestInvert_DeleteRestoresRecord(t *testing.T) {
	m := Apply(testMap(), createOp("tp-1", "Sign up", 10, 100))

	del := NewOperation(OpDeleteTouchpoint, "user-a")
	del.Timestamp = 200
	del.TouchpointID = "tp-1"

	inv, ok := Invert(m, del)
	require.True(t, ok)
	require.Equal(t, OpCreateTouchpoint, inv.Type)
	require.NotNil(t, inv.Touchpoint)
	assert.Nil(t, inv.Touchpoint.DeletedAt)
	assert.Equal(t, "Sign up", inv.Touchpoint.Title)

	restored := Apply(Apply(m, del), inv)
	assert.False(t, restored.Touchpoints["tp-1"].Deleted())
}

func TestInvert_UpdateOnTombstonedTargetFails(t *testing.T) {
	m := Apply(testMap(), createOp("tp-1", "Sign up", 10, 100))

	del := NewOperation(OpDeleteTouchpoint, "user-b")
	del.TouchpointID = "tp-1"
	m = Apply(m, del)

	op := NewOperation(OpUpdateTouchpoint, "user-a")
	op.TouchpointID = "tp-1"
	op.Changes = &TouchpointChanges{Title: strPtr("X")}

	_, ok := Invert(m, op)
	assert.False(t, ok)

	del2 := NewOperation(OpDeleteTouchpoint, "user-a")
	del2.TouchpointID = "tp-1"
	_, ok = Invert(m, del2)
	assert.False(t, ok, "re-delete of a tombstoned target has no inverse")
}

func TestInvert_Metadata(t *testing.T) {
	m := testMap()

	op := NewOperation(OpUpdateMetadata, "user-a")
	op.Meta = &MetadataChanges{Title: strPtr("Renamed")}

	inv, ok := Invert(m, op)
	require.True(t, ok)
	require.NotNil(t, inv.Meta)
	assert.Equal(t, "Onboarding", *inv.Meta.Title)
	assert.Nil(t, inv.Meta.Description)

	undone := Apply(Apply(m, op), inv)
	assert.Equal(t, "Onboarding", undone.Title)
}

func TestInvert_DeleteJourneyHasNoInverse(t *testing.T) {
	m := testMap()
	op := NewOperation(OpDeleteJourney, "user-a")

	_, ok := Invert(m, op)
	assert.False(t, ok)
}

func TestInvert_UpdateAttachingImageClearsItOnUndo(t *testing.T) {
	m := Apply(testMap(), createOp("tp-1", "Sign up", 10, 100))
	require.False(t, m.Touchpoints["tp-1"].HasImage())

	op := NewOperation(OpUpdateTouchpoint, "user-a")
	op.TouchpointID = "tp-1"
	op.Changes = &TouchpointChanges{
		ImageData: []byte("fake-png"),
		ImageName: strPtr("hero.png"),
		ImageType: strPtr("image/png"),
	}

	// The touchpoint had no attachment before, so the inverse must carry
	// the removal signal rather than a nil (untouched) payload.
	inv, ok := Invert(m, op)
	require.True(t, ok)
	assert.True(t, inv.Changes.ClearImage)
	assert.Nil(t, inv.Changes.ImageData)

	undone := Apply(Apply(m, op), inv)
	tp := undone.Touchpoints["tp-1"]
	assert.False(t, tp.HasImage())
	assert.Empty(t, tp.ImageName)
	assert.Empty(t, tp.ImageType)
}

func TestInvert_UpdateClearingImageRestoresItOnUndo(t *testing.T) {
	m := Apply(testMap(), createOp("tp-1", "Sign up", 10, 100))

	attach := NewOperation(OpUpdateTouchpoint, "user-a")
	attach.TouchpointID = "tp-1"
	attach.Changes = &TouchpointChanges{
		ImageData: []byte("fake-png"),
		ImageName: strPtr("hero.png"),
		ImageType: strPtr("image/png"),
	}
	m = Apply(m, attach)

	remove := NewOperation(OpUpdateTouchpoint, "user-a")
	remove.TouchpointID = "tp-1"
	remove.Changes = &TouchpointChanges{ClearImage: true}

	inv, ok := Invert(m, remove)
	require.True(t, ok)
	assert.Equal(t, []byte("fake-png"), inv.Changes.ImageData)
	assert.Equal(t, "hero.png", *inv.Changes.ImageName)
	assert.Equal(t, "image/png", *inv.Changes.ImageType)

	undone := Apply(Apply(m, remove), inv)
	tp := undone.Touchpoints["tp-1"]
	assert.Equal(t, []byte("fake-png"), tp.ImageData)
	assert.Equal(t, "hero.png", tp.ImageName)
	assert.Equal(t, "image/png", tp.ImageType)
}
