package overlay

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Slot is the mutable, optional value held by one version of a key.
// Present is false for a tombstone (explicit delete); true with a nil or
// empty Value is a perfectly ordinary stored value.
type Slot struct {
	Value   []byte
	Present bool
}

// versionRecord is one slot in a key's version stack, grounded on
// pkg/mvcc.VersionedValue: a value plus the set of extrinsic indices
// that wrote it at this scope. The set is backed by golang-set's
// thread-unsafe variant (github.com/deckarep/golang-set/v2, as used for
// the domain collection in gitlab.com/peerdb/peerdb's config.go) since
// it already deduplicates on insertion and the single-owner discipline
// (spec §5) means a concurrency-safe set would buy nothing.
type versionRecord struct {
	Slot
	extrinsics mapset.Set[uint32]
}

func newVersionRecord(slot Slot, atExtrinsic *uint32) versionRecord {
	v := versionRecord{Slot: slot, extrinsics: mapset.NewThreadUnsafeSet[uint32]()}
	if atExtrinsic != nil {
		v.extrinsics.Add(*atExtrinsic)
	}
	return v
}

// sortedExtrinsics returns this version's extrinsic indices in
// ascending order, mirroring the BTreeSet<u32> the reference
// implementation uses for the same field.
func (v versionRecord) sortedExtrinsics() []uint32 {
	out := v.extrinsics.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
