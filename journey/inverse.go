package journey

// Invert builds the operation that undoes op. It must be given the snapshot
// op is about to be applied to, since prior field values only exist there.
// It returns ok=false when no meaningful inverse exists: the forward
// operation was a no-op (update or delete on an absent or tombstoned
// target), or the variant carries too little state to restore (deleting the
// whole document). The inverse keeps op's user but gets a fresh id and
// timestamp, since it is a new state change.
func Invert(pre *Map, op *Operation) (*Operation, bool) {
	switch op.Type {
	case OpCreateTouchpoint:
		if op.Touchpoint == nil || op.Touchpoint.ID == "" {
			return nil, false
		}
		inv := NewOperation(OpDeleteTouchpoint, op.UserID)
		inv.TouchpointID = op.Touchpoint.ID
		return inv, true

	case OpUpdateTouchpoint:
		tp, ok := pre.Touchpoints[op.TouchpointID]
		if !ok || tp.Deleted() {
			// The forward update was a no-op; there is nothing to undo.
			return nil, false
		}
		inv := NewOperation(OpUpdateTouchpoint, op.UserID)
		inv.TouchpointID = op.TouchpointID
		inv.Changes = priorChanges(tp, op.Changes)
		return inv, true

	case OpDeleteTouchpoint:
		tp, ok := pre.Touchpoints[op.TouchpointID]
		if !ok || tp.Deleted() {
			return nil, false
		}
		restored := *tp
		restored.DeletedAt = nil
		if tp.ImageData != nil {
			restored.ImageData = append([]byte(nil), tp.ImageData...)
		}
		inv := NewOperation(OpCreateTouchpoint, op.UserID)
		inv.Touchpoint = &restored
		return inv, true

	case OpUpdateMetadata:
		if op.Meta == nil {
			return nil, false
		}
		prior := &MetadataChanges{}
		if op.Meta.Title != nil {
			title := pre.Title
			prior.Title = &title
		}
		if op.Meta.Description != nil {
			desc := pre.Description
			prior.Description = &desc
		}
		inv := NewOperation(OpUpdateMetadata, op.UserID)
		inv.Meta = prior
		return inv, true

	case OpDeleteJourney:
		// Restoring a deleted document would need the whole pre-delete
		// snapshot, which the operation does not carry.
		return nil, false
	}

	return nil, false
}

// priorChanges builds a change set carrying pre-operation values for exactly
// the fields op's change set touches.
func priorChanges(tp *Touchpoint, c *TouchpointChanges) *TouchpointChanges {
	prior := &TouchpointChanges{}
	if c == nil {
		return prior
	}
	if c.Title != nil {
		v := tp.Title
		prior.Title = &v
	}
	if c.Description != nil {
		v := tp.Description
		prior.Description = &v
	}
	if c.Emotion != nil {
		v := tp.Emotion
		prior.Emotion = &v
	}
	if c.Intensity != nil {
		v := tp.Intensity
		prior.Intensity = &v
	}
	if c.XPosition != nil {
		v := tp.XPosition
		prior.XPosition = &v
	}
	if c.ImageData != nil || c.ClearImage {
		if len(tp.ImageData) == 0 {
			// There was no attachment to go back to.
			prior.ClearImage = true
		} else {
			prior.ImageData = append([]byte(nil), tp.ImageData...)
			if c.ClearImage {
				// The forward clear wipes the metadata along with the data.
				name := tp.ImageName
				typ := tp.ImageType
				prior.ImageName = &name
				prior.ImageType = &typ
			}
		}
	}
	if c.ImageName != nil && !prior.ClearImage && prior.ImageName == nil {
		v := tp.ImageName
		prior.ImageName = &v
	}
	if c.ImageType != nil && !prior.ClearImage && prior.ImageType == nil {
		v := tp.ImageType
		prior.ImageType = &v
	}
	return prior
}
