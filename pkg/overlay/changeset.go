// Package overlay implements the transactional overlay changeset: an
// in-memory, ordered key-value overlay that buffers pending writes on
// top of an underlying storage backend and supports arbitrarily deep
// nested transactions with commit and rollback.
//
// A Changeset has exactly one owner. No method is safe to call
// concurrently with another method on the same Changeset (spec §5) -
// there is no internal locking, by design.
package overlay

// Mutation is one entry of DrainCommitted's output: a key and its
// final, optional value. Present == false means "delete this key";
// Present == true means "set this key to Value" (which may be empty
// but present bytes).
type Mutation struct {
	Key     []byte
	Value   []byte
	Present bool
}

// Entry is one (key, overlayed value) pair as yielded by Changes.
type Entry struct {
	Key   []byte
	Value *OverlayedValue
}

// Changeset is the ordered map from key to overlayed value, plus the
// depth-indexed dirty-key index that makes commit and rollback
// proportional to the keys touched in the closing scope rather than the
// whole changeset.
type Changeset struct {
	changes   *keyList
	dirtyKeys []map[string]struct{}
}

// New returns an empty changeset at transaction depth zero.
func New() *Changeset {
	return &Changeset{changes: newKeyList()}
}

// WithDepth returns a changeset pre-opened to the given depth, as if
// StartTransaction had been called depth times on an empty changeset.
func WithDepth(depth int) *Changeset {
	cs := New()
	if depth <= 0 {
		return cs
	}
	cs.dirtyKeys = make([]map[string]struct{}, depth)
	for i := range cs.dirtyKeys {
		cs.dirtyKeys[i] = make(map[string]struct{})
	}
	return cs
}

// IsEmpty reports whether the changeset holds no keys at all.
func (cs *Changeset) IsEmpty() bool { return cs.changes.Len() == 0 }

// TransactionDepth returns the number of currently open transactions.
func (cs *Changeset) TransactionDepth() int { return len(cs.dirtyKeys) }

// Get returns the overlayed value for key, or false if the overlay has
// no entry for it (the caller must then consult the backing store).
func (cs *Changeset) Get(key []byte) (*OverlayedValue, bool) {
	return cs.changes.Get(key)
}

// insertDirty marks key dirty in the innermost open transaction and
// reports whether this is the first time key was marked dirty at this
// depth. With no transaction open it always returns false.
func (cs *Changeset) insertDirty(key []byte) bool {
	if len(cs.dirtyKeys) == 0 {
		return false
	}
	top := cs.dirtyKeys[len(cs.dirtyKeys)-1]
	k := string(key)
	if _, already := top[k]; already {
		return false
	}
	top[k] = struct{}{}
	return true
}

// Set records a write (a value, or a deletion when present is false)
// for key. With no transaction open the write overwrites the single
// version in place - there is no transaction boundary to preserve.
func (cs *Changeset) Set(key []byte, value []byte, present bool, atExtrinsic *uint32) {
	ov := cs.changes.GetOrInsert(key, func() *OverlayedValue { return &OverlayedValue{} })
	first := cs.insertDirty(key)
	ov.write(Slot{Value: value, Present: present}, first, atExtrinsic)
}

// Modify is the read-modify-write helper. It returns a mutable handle
// to the top version's value; the returned *Slot must be mutated by the
// caller (that mutation IS the write) and must not be retained past the
// next call that mutates this Changeset.
func (cs *Changeset) Modify(key []byte, initValue func() []byte, atExtrinsic *uint32) *Slot {
	ov := cs.changes.GetOrInsert(key, func() *OverlayedValue {
		return newOverlayedValue(Slot{Value: initValue(), Present: true}, atExtrinsic)
	})
	// Avoid rewriting the value with itself when it was already
	// written earlier in this same open transaction. The checkpoint gets
	// its own copy of the value bytes, so edits through the returned Slot
	// never reach the version below it.
	if cs.insertDirty(key) {
		cur := ov.Value()
		if cur.Value != nil {
			cur.Value = append(make([]byte, 0, len(cur.Value)), cur.Value...)
		}
		ov.write(cur, true, atExtrinsic)
	}
	return ov.topSlot()
}

// Clear tombstones every key already present in the overlay for which
// predicate holds. It does not touch keys that live only in the backing
// store - deleting those is the caller's responsibility via Set. The
// predicate must not mutate the changeset.
func (cs *Changeset) Clear(predicate func(key []byte, value *OverlayedValue) bool, atExtrinsic *uint32) {
	for _, e := range cs.changes.All() {
		if !predicate(e.Key, e.Value) {
			continue
		}
		first := cs.insertDirty(e.Key)
		e.Value.write(Slot{Present: false}, first, atExtrinsic)
	}
}

// Changes returns every (key, overlayed value) pair in lexicographic
// key order.
func (cs *Changeset) Changes() []Entry {
	all := cs.changes.All()
	entries := make([]Entry, len(all))
	for i, e := range all {
		entries[i] = Entry{Key: e.Key, Value: e.Value}
	}
	return entries
}

// NextChange returns the first entry whose key is strictly greater
// than key, or false if there is none.
func (cs *Changeset) NextChange(key []byte) (Entry, bool) {
	k, v, ok := cs.changes.Next(key)
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: k, Value: v}, true
}

// StartTransaction opens a new, empty, nested transaction.
func (cs *Changeset) StartTransaction() {
	cs.dirtyKeys = append(cs.dirtyKeys, make(map[string]struct{}))
}

// RollbackTransaction discards every write made since the matching
// StartTransaction: it pops the innermost dirty-key set and drops
// exactly one version per key in it, removing any key whose stack
// becomes empty.
func (cs *Changeset) RollbackTransaction() {
	cs.closeTransaction(true)
}

// CommitTransaction merges the innermost open transaction into its
// parent (or into the committed baseline if it was the outermost),
// selectively adopting or merging each dirty key's top version.
func (cs *Changeset) CommitTransaction() {
	cs.closeTransaction(false)
}

func (cs *Changeset) closeTransaction(rollback bool) {
	depth := len(cs.dirtyKeys)
	if depth == 0 {
		invariant("no open transaction to close")
	}
	dirty := cs.dirtyKeys[depth-1]
	cs.dirtyKeys = cs.dirtyKeys[:depth-1]

	for keyStr := range dirty {
		key := []byte(keyStr)
		ov, ok := cs.changes.Get(key)
		if !ok {
			invariant("dirty key %q has no overlay entry", key)
		}

		if rollback {
			ov.popTransaction()
			if ov.Len() == 0 {
				cs.changes.Delete(key)
			}
			continue
		}

		// Decide adopt-or-merge: did the enclosing scope (the new
		// parent, or the committed baseline) already have a version
		// for this key?
		var noPredecessor bool
		if len(cs.dirtyKeys) > 0 {
			parent := cs.dirtyKeys[len(cs.dirtyKeys)-1]
			_, already := parent[keyStr]
			parent[keyStr] = struct{}{}
			noPredecessor = !already
		} else {
			// Outermost transaction: the committed baseline already
			// holds a version iff more than the current one exists.
			noPredecessor = ov.Len() == 1
		}

		if noPredecessor {
			// The child's version becomes the parent's: leave it in
			// place, the dirty marker above propagates ownership.
			continue
		}

		dropped := ov.popTransaction()
		top := ov.topSlot()
		*top = dropped.Slot
		ext := ov.topExtrinsics()
		for _, idx := range dropped.sortedExtrinsics() {
			ext.extrinsics.Add(idx)
		}
	}
}

// DrainCommitted requires transaction depth zero. It consumes the
// changeset and returns, in lexicographic key order, the single
// remaining version's value for every key - the authoritative write
// set for the backing store.
func (cs *Changeset) DrainCommitted() []Mutation {
	if len(cs.dirtyKeys) != 0 {
		invariant("cannot drain with %d open transaction(s)", len(cs.dirtyKeys))
	}
	all := cs.changes.All()
	out := make([]Mutation, len(all))
	for i, e := range all {
		v := e.Value.popTransaction()
		out[i] = Mutation{Key: e.Key, Value: v.Value, Present: v.Present}
	}
	cs.changes = newKeyList()
	return out
}
