package overlay

// OverlayedValue is a non-empty stack of version records for a single
// key. The top of the stack is the value visible to the current scope;
// every version below it belongs to an enclosing, still-open
// transaction or, at the bottom, to the committed baseline. An OverlayedValue is removed from its Changeset the
// instant its stack would become empty - only rollback does this.
type OverlayedValue struct {
	versions []versionRecord
}

// newOverlayedValue creates a single-version overlay holding slot, with
// extrinsic index atExtrinsic recorded against that first version if
// supplied.
func newOverlayedValue(slot Slot, atExtrinsic *uint32) *OverlayedValue {
	return &OverlayedValue{versions: []versionRecord{newVersionRecord(slot, atExtrinsic)}}
}

// Len reports how many versions are currently stacked for this key.
func (ov *OverlayedValue) Len() int { return len(ov.versions) }

// Value returns the value seen by the current (innermost) scope.
// Present is false for a tombstone.
func (ov *OverlayedValue) Value() Slot {
	if len(ov.versions) == 0 {
		invariant("read of an empty version stack")
	}
	return ov.versions[len(ov.versions)-1].Slot
}

// Extrinsics returns the union of extrinsic indices recorded across
// every version of this key, each index exactly once. Per spec this is
// the concatenation of each version's own ordered set, deduplicated on
// first occurrence - not a global sort, so the ordering reflects which
// version first touched a given extrinsic index.
func (ov *OverlayedValue) Extrinsics() []uint32 {
	seen := make(map[uint32]struct{})
	out := make([]uint32, 0)
	for _, v := range ov.versions {
		for _, idx := range v.sortedExtrinsics() {
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			out = append(out, idx)
		}
	}
	return out
}

func (ov *OverlayedValue) topSlot() *Slot {
	if len(ov.versions) == 0 {
		invariant("read of an empty version stack")
	}
	return &ov.versions[len(ov.versions)-1].Slot
}

func (ov *OverlayedValue) topExtrinsics() *versionRecord {
	if len(ov.versions) == 0 {
		invariant("read of an empty version stack")
	}
	return &ov.versions[len(ov.versions)-1]
}

// write is the single choke point that preserves "one new version per
// (key, open scope) pair": if firstWriteInTx is true, or the stack is
// still empty, a new version is pushed; otherwise the top version is
// overwritten in place.
func (ov *OverlayedValue) write(slot Slot, firstWriteInTx bool, atExtrinsic *uint32) {
	if firstWriteInTx || len(ov.versions) == 0 {
		ov.versions = append(ov.versions, newVersionRecord(slot, atExtrinsic))
		return
	}
	top := &ov.versions[len(ov.versions)-1]
	top.Slot = slot
	if atExtrinsic != nil {
		top.extrinsics.Add(*atExtrinsic)
	}
}

// popTransaction removes and returns the top version. Used by commit
// (to fold into the parent) and rollback (to discard).
func (ov *OverlayedValue) popTransaction() versionRecord {
	if len(ov.versions) == 0 {
		invariant("pop of an empty version stack")
	}
	last := len(ov.versions) - 1
	v := ov.versions[last]
	ov.versions = ov.versions[:last]
	return v
}
