package overlay

import (
	"bytes"
	"math/rand"
	"time"
)

// keyList is the ordered key -> *OverlayedValue map backing a Changeset.
// It is a skip list, the same structure pkg/lsm uses for its in-memory
// memtable, generalized from interface{} values to *OverlayedValue and
// stripped of its locking: a Changeset has exactly one owner (spec §5),
// so the synchronization pkg/lsm.SkipList needs for concurrent readers
// and writers would be dead weight here.
const (
	keyListMaxLevel    = 16
	keyListProbability = 0.25
)

type keyListNode struct {
	key     []byte
	value   *OverlayedValue
	forward []*keyListNode
}

func newKeyListNode(key []byte, value *OverlayedValue, level int) *keyListNode {
	return &keyListNode{key: key, value: value, forward: make([]*keyListNode, level)}
}

type keyList struct {
	head   *keyListNode
	level  int
	size   int
	random *rand.Rand
}

func newKeyList() *keyList {
	return &keyList{
		head:   newKeyListNode(nil, nil, keyListMaxLevel),
		level:  1,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (kl *keyList) randomLevel() int {
	level := 1
	for level < keyListMaxLevel && kl.random.Float32() < keyListProbability {
		level++
	}
	return level
}

// Len returns the number of keys currently stored.
func (kl *keyList) Len() int { return kl.size }

// Get returns the overlayed value for key, if present.
func (kl *keyList) Get(key []byte) (*OverlayedValue, bool) {
	current := kl.head
	for i := kl.level - 1; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
	}
	current = current.forward[0]
	if current != nil && bytes.Equal(current.key, key) {
		return current.value, true
	}
	return nil, false
}

// GetOrInsert returns the existing overlayed value for key, inserting
// create() as a new entry first if none exists.
func (kl *keyList) GetOrInsert(key []byte, create func() *OverlayedValue) *OverlayedValue {
	if ov, ok := kl.Get(key); ok {
		return ov
	}
	ov := create()
	kl.Insert(key, ov)
	return ov
}

// Insert adds or overwrites the entry for key.
func (kl *keyList) Insert(key []byte, value *OverlayedValue) {
	update := make([]*keyListNode, keyListMaxLevel)
	current := kl.head

	for i := kl.level - 1; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
		update[i] = current
	}

	current = current.forward[0]
	if current != nil && bytes.Equal(current.key, key) {
		current.value = value
		return
	}

	newLevel := kl.randomLevel()
	if newLevel > kl.level {
		for i := kl.level; i < newLevel; i++ {
			update[i] = kl.head
		}
		kl.level = newLevel
	}

	node := newKeyListNode(key, value, newLevel)
	for i := 0; i < newLevel; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	kl.size++
}

// Delete removes key, reporting whether it was present.
func (kl *keyList) Delete(key []byte) bool {
	update := make([]*keyListNode, keyListMaxLevel)
	current := kl.head

	for i := kl.level - 1; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
		update[i] = current
	}

	current = current.forward[0]
	if current == nil || !bytes.Equal(current.key, key) {
		return false
	}

	for i := 0; i < kl.level; i++ {
		if update[i].forward[i] != current {
			break
		}
		update[i].forward[i] = current.forward[i]
	}

	for kl.level > 1 && kl.head.forward[kl.level-1] == nil {
		kl.level--
	}

	kl.size--
	return true
}

// Next returns the entry whose key is strictly greater than key, or
// false if there is none.
func (kl *keyList) Next(key []byte) ([]byte, *OverlayedValue, bool) {
	current := kl.head
	for i := kl.level - 1; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) <= 0 {
			current = current.forward[i]
		}
	}
	next := current.forward[0]
	if next == nil {
		return nil, nil, false
	}
	return next.key, next.value, true
}

// All walks every entry in ascending key order.
func (kl *keyList) All() []keyListEntry {
	entries := make([]keyListEntry, 0, kl.size)
	for node := kl.head.forward[0]; node != nil; node = node.forward[0] {
		entries = append(entries, keyListEntry{Key: node.key, Value: node.value})
	}
	return entries
}

type keyListEntry struct {
	Key   []byte
	Value *OverlayedValue
}
