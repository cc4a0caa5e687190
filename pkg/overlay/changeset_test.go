package overlay

import (
	"bytes"
	"reflect"
	"testing"
)

func u32(v uint32) *uint32 { return &v }

func mustMutation(t *testing.T, muts []Mutation, key string) Mutation {
	t.Helper()
	for _, m := range muts {
		if string(m.Key) == key {
			return m
		}
	}
	t.Fatalf("drained output missing key %q", key)
	return Mutation{}
}

// Scenario 1: simple write/drain.
func TestDrainSimpleWrites(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, nil)
	cs.Set([]byte("b"), []byte{2}, true, nil)

	got := cs.DrainCommitted()
	want := []Mutation{
		{Key: []byte("a"), Value: []byte{1}, Present: true},
		{Key: []byte("b"), Value: []byte{2}, Present: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// Scenario 2: rollback discards.
func TestRollbackDiscardsWrites(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, nil)

	cs.StartTransaction()
	cs.Set([]byte("a"), []byte{9}, true, nil)
	cs.Set([]byte("c"), []byte{3}, true, nil)
	cs.RollbackTransaction()

	got := cs.DrainCommitted()
	want := []Mutation{{Key: []byte("a"), Value: []byte{1}, Present: true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// Scenario 3: commit merges, extrinsics union.
func TestCommitMergesAndUnionsExtrinsics(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, u32(0))

	cs.StartTransaction()
	cs.Set([]byte("a"), []byte{2}, true, u32(1))

	ov, ok := cs.Get([]byte("a"))
	if !ok {
		t.Fatal("expected overlay entry for a before commit")
	}

	cs.CommitTransaction()

	// DrainCommitted consumes every version, so the extrinsics of the
	// final entry are read after the commit and before the drain.
	ext := ov.Extrinsics()
	if len(ext) != 2 || !containsU32(ext, 0) || !containsU32(ext, 1) {
		t.Fatalf("expected extrinsics {0,1}, got %v", ext)
	}

	got := cs.DrainCommitted()
	want := []Mutation{{Key: []byte("a"), Value: []byte{2}, Present: true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func containsU32(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Scenario 4: inner commit adopts into the middle scope; the outer
// rollback then drops it, so nothing ever reaches the baseline.
func TestCommitAdoptsWhenParentUnchanged(t *testing.T) {
	cs := New()
	cs.StartTransaction()
	cs.StartTransaction()
	cs.Set([]byte("x"), []byte{7}, true, nil)
	cs.CommitTransaction()
	cs.RollbackTransaction()

	if !cs.IsEmpty() {
		t.Fatalf("expected empty changeset, got %d keys", cs.changes.Len())
	}
	got := cs.DrainCommitted()
	if len(got) != 0 {
		t.Fatalf("expected no drained mutations, got %+v", got)
	}
}

// Scenario 5: next-change.
func TestNextChange(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, nil)
	cs.Set([]byte("c"), []byte{2}, true, nil)
	cs.Set([]byte("e"), []byte{3}, true, nil)

	if e, ok := cs.NextChange([]byte("a")); !ok || string(e.Key) != "c" {
		t.Fatalf("NextChange(a) = %+v, %v", e, ok)
	}
	if e, ok := cs.NextChange([]byte("b")); !ok || string(e.Key) != "c" {
		t.Fatalf("NextChange(b) = %+v, %v", e, ok)
	}
	if _, ok := cs.NextChange([]byte("e")); ok {
		t.Fatalf("NextChange(e) should find nothing")
	}
}

// Scenario 6: clear with predicate.
func TestClearWithPredicate(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, nil)
	cs.Set([]byte("b"), []byte{2}, true, nil)
	cs.Set([]byte("c"), []byte{3}, true, nil)

	cs.Clear(func(key []byte, _ *OverlayedValue) bool {
		return string(key) != "b"
	}, nil)

	got := cs.DrainCommitted()
	want := []Mutation{
		{Key: []byte("a"), Present: false},
		{Key: []byte("b"), Value: []byte{2}, Present: true},
		{Key: []byte("c"), Present: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestClearOnlyTouchesOverlaidKeys(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, nil)

	called := false
	cs.Clear(func(key []byte, _ *OverlayedValue) bool {
		called = true
		if string(key) == "not-in-overlay" {
			t.Fatal("predicate must not see keys outside the overlay")
		}
		return true
	}, nil)
	if !called {
		t.Fatal("expected predicate to run over the one overlaid key")
	}
}

func TestRollbackNeutrality(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), []byte{1}, true, nil)
	before := cs.DrainCommitted() // consumes cs; rebuild identically for comparison

	cs = New()
	cs.Set([]byte("a"), []byte{1}, true, nil)
	cs.StartTransaction()
	cs.Set([]byte("p"), []byte{9}, true, nil)
	cs.Set([]byte("q"), []byte{8}, true, nil)
	cs.RollbackTransaction()
	after := cs.DrainCommitted()

	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rollback was not neutral: before=%+v after=%+v", before, after)
	}
}

func TestCommitAtDepthOneEqualsInline(t *testing.T) {
	inline := New()
	inline.Set([]byte("a"), []byte{1}, true, u32(5))
	inline.Set([]byte("b"), nil, false, nil)
	wantDrain := inline.DrainCommitted()

	nested := New()
	nested.StartTransaction()
	nested.Set([]byte("a"), []byte{1}, true, u32(5))
	nested.Set([]byte("b"), nil, false, nil)
	nested.CommitTransaction()
	gotDrain := nested.DrainCommitted()

	if !reflect.DeepEqual(wantDrain, gotDrain) {
		t.Fatalf("commit-at-depth-1 != inline: got %+v, want %+v", gotDrain, wantDrain)
	}
}

func TestOrderIsLexicographic(t *testing.T) {
	cs := New()
	for _, k := range []string{"m", "a", "z", "b"} {
		cs.Set([]byte(k), []byte(k), true, nil)
	}
	entries := cs.Changes()
	var keys []string
	for _, e := range entries {
		keys = append(keys, string(e.Key))
	}
	want := []string{"a", "b", "m", "z"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("Changes() order = %v, want %v", keys, want)
	}

	muts := cs.DrainCommitted()
	var drainKeys []string
	for _, m := range muts {
		drainKeys = append(drainKeys, string(m.Key))
	}
	if !reflect.DeepEqual(drainKeys, want) {
		t.Fatalf("DrainCommitted() order = %v, want %v", drainKeys, want)
	}
}

func TestTombstoneSemantics(t *testing.T) {
	cs := New()
	cs.Set([]byte("a"), nil, false, nil)
	got := cs.DrainCommitted()
	want := []Mutation{{Key: []byte("a"), Present: false}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIsEmpty(t *testing.T) {
	cs := New()
	if !cs.IsEmpty() {
		t.Fatal("fresh changeset must be empty")
	}
	cs.Set([]byte("a"), []byte{1}, true, nil)
	if cs.IsEmpty() {
		t.Fatal("changeset with a write must not be empty")
	}
}

func TestGetMissingKey(t *testing.T) {
	cs := New()
	if _, ok := cs.Get([]byte("missing")); ok {
		t.Fatal("expected no overlay entry for an unwritten key")
	}
}

func TestWithDepthMatchesRepeatedStartTransaction(t *testing.T) {
	a := WithDepth(3)
	b := New()
	b.StartTransaction()
	b.StartTransaction()
	b.StartTransaction()

	if a.TransactionDepth() != b.TransactionDepth() {
		t.Fatalf("depths differ: %d vs %d", a.TransactionDepth(), b.TransactionDepth())
	}
}

func TestModifyCreatesBaselineAndCheckpoint(t *testing.T) {
	cs := New()
	cs.StartTransaction()

	slot := cs.Modify([]byte("ctr"), func() []byte { return []byte{0} }, u32(1))
	slot.Value = []byte{1}

	ov, ok := cs.Get([]byte("ctr"))
	if !ok {
		t.Fatal("expected overlay entry after Modify")
	}
	if ov.Len() != 2 {
		t.Fatalf("expected 2 versions (baseline + checkpoint), got %d", ov.Len())
	}

	slot2 := cs.Modify([]byte("ctr"), func() []byte { return []byte{0} }, u32(2))
	if !bytes.Equal(slot2.Value, []byte{1}) {
		t.Fatalf("second Modify in same tx must see first Modify's write, got %v", slot2.Value)
	}
	if ov.Len() != 2 {
		t.Fatalf("second Modify in the same tx must not push a new version, got %d", ov.Len())
	}

	// Modify's init() value is a baseline, not a transaction write: it
	// was pushed once, unconditionally, when the key was first seen,
	// so rolling back the transaction that did the Modify call only
	// pops the checkpoint version and uncovers that baseline again -
	// it does not remove the key.
	cs.RollbackTransaction()
	ov, ok = cs.Get([]byte("ctr"))
	if !ok {
		t.Fatal("expected the init() baseline to survive the rollback")
	}
	if ov.Len() != 1 {
		t.Fatalf("expected exactly the baseline version to remain, got %d", ov.Len())
	}
	if got := ov.Value(); !bytes.Equal(got.Value, []byte{0}) {
		t.Fatalf("expected baseline value 0 restored, got %v", got.Value)
	}
}

func TestModifyAtDepthZeroMutatesInPlace(t *testing.T) {
	cs := New()
	slot := cs.Modify([]byte("ctr"), func() []byte { return []byte{0} }, nil)
	slot.Value = []byte{5}

	ov, _ := cs.Get([]byte("ctr"))
	if ov.Len() != 1 {
		t.Fatalf("depth-0 Modify must not open a transaction boundary, got %d versions", ov.Len())
	}
	if got := ov.Value(); !bytes.Equal(got.Value, []byte{5}) {
		t.Fatalf("expected mutated value 5, got %v", got.Value)
	}
}

func TestDrainPanicsWithOpenTransaction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when draining with an open transaction")
		}
	}()
	cs := New()
	cs.StartTransaction()
	cs.DrainCommitted()
}

func TestRollbackPanicsWithNoTransaction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic rolling back with no open transaction")
		}
	}()
	New().RollbackTransaction()
}

func TestCommitPanicsWithNoTransaction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic committing with no open transaction")
		}
	}()
	New().CommitTransaction()
}

func TestVersionStackBound(t *testing.T) {
	cs := New()
	for i := 0; i < 5; i++ {
		cs.StartTransaction()
		cs.Set([]byte("k"), []byte{byte(i)}, true, nil)
	}
	ov, ok := cs.Get([]byte("k"))
	if !ok {
		t.Fatal("expected entry for k")
	}
	if ov.Len() > 1+cs.TransactionDepth() {
		t.Fatalf("version stack bound violated: %d versions at depth %d", ov.Len(), cs.TransactionDepth())
	}
}
