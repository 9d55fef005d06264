package object

import "math"

// List is a growable, ordered, mutable sequence backing list literals
// and the __len__/__get__/__set__/__iter__ family of methods.
type List struct {
	Header
	Elems []Value
}

func NewList(elems []Value) *List {
	l := &List{Elems: elems}
	l.kind = ObjList
	return l
}

func (l *List) Len() int { return len(l.Elems) }

func (l *List) Append(v Value) { l.Elems = append(l.Elems, v) }

// Tuple is List's immutable sibling: fixed-length once constructed, no
// Append. Kept as a distinct Go type (rather than a List with a frozen
// flag) so a type switch at the VM boundary is the single source of
// truth for which literal form produced a value.
type Tuple struct {
	Header
	Elems []Value
}

func NewTuple(elems []Value) *Tuple {
	t := &Tuple{Elems: elems}
	t.kind = ObjTuple
	return t
}

func (t *Tuple) Len() int { return len(t.Elems) }

// tableEntry is one slot of the open-addressed table. Tombstone is set
// when a key is deleted so probing past it still finds keys that
// collided with it before the delete; an empty (never-occupied) slot
// stops a probe sequence but a tombstone must not.
type tableEntry struct {
	key       Value
	value     Value
	occupied  bool
	tombstone bool
}

// Table is the language's hash-map literal: open addressing with linear
// probing over a power-of-two bucket array, tombstones on delete, and
// resize-on-load-factor, grounded on the same scheme clox's Table uses
// for its string-interning and global tables (here applied to a
// user-facing value -> value map instead). Key hashing and equality
// use HashValue and Value.Equals for every key: value-based for
// primitives and interned strings, identity-based for other objects. A
// user-defined __hash__ or __eq__ on an instance key is not called,
// neither here nor by corelib's Table native methods.
type Table struct {
	Header
	entries []tableEntry
	count   int // occupied, including tombstones
	live    int // occupied, excluding tombstones
}

const tableMinCapacity = 8
const tableMaxLoad = 0.75

func NewTable() *Table {
	t := &Table{}
	t.kind = ObjTable
	return t
}

func (t *Table) Len() int { return t.live }

// HashValue computes the default hash for a Value: numbers hash their
// bit pattern (so -0 and 0 collide, matching their Equals behavior),
// strings reuse their precomputed Hash, and everything else (bool,
// null, objects without a dedicated hash) falls back to a small fixed
// or kind-derived constant — acceptable for an open-addressed table
// since collisions only cost extra probing, never correctness.
func HashValue(v Value) uint32 {
	switch v.Kind() {
	case KindNumber:
		n := v.AsNumber()
		if n == 0 {
			n = 0 // -0 == 0, so both hash as +0
		}
		bits := math.Float64bits(n)
		return uint32(bits) ^ uint32(bits>>32)
	case KindBool:
		if v.AsBool() {
			return 1
		}
		return 0
	case KindNull:
		return 0x9e3779b9
	case KindObject:
		if s, ok := v.AsObject().(*String); ok {
			return s.Hash
		}
		return 0x85ebca6b
	default:
		return 0
	}
}

func (t *Table) findSlot(key Value, hash uint32) int {
	cap := len(t.entries)
	idx := int(hash) & (cap - 1)
	var tombstoneIdx = -1
	for {
		e := &t.entries[idx]
		if !e.occupied {
			if e.tombstone {
				if tombstoneIdx == -1 {
					tombstoneIdx = idx
				}
			} else {
				if tombstoneIdx != -1 {
					return tombstoneIdx
				}
				return idx
			}
		} else if e.key.Equals(key) {
			return idx
		}
		idx = (idx + 1) & (cap - 1)
	}
}

func (t *Table) grow() {
	newCap := tableMinCapacity
	if len(t.entries) > 0 {
		newCap = len(t.entries) * 2
	}
	old := t.entries
	t.entries = make([]tableEntry, newCap)
	t.count = 0
	t.live = 0
	for _, e := range old {
		if e.occupied {
			t.Set(e.key, e.value)
		}
	}
}

func (t *Table) Set(key, value Value) (isNew bool) {
	if len(t.entries) == 0 || float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}
	hash := HashValue(key)
	idx := t.findSlot(key, hash)
	e := &t.entries[idx]
	wasNew := !e.occupied
	if wasNew && !e.tombstone {
		t.count++
	}
	if wasNew {
		t.live++
	}
	e.key = key
	e.value = value
	e.occupied = true
	e.tombstone = false
	return wasNew
}

func (t *Table) Get(key Value) (Value, bool) {
	if len(t.entries) == 0 {
		return Value{}, false
	}
	idx := t.findSlot(key, HashValue(key))
	e := &t.entries[idx]
	if !e.occupied {
		return Value{}, false
	}
	return e.value, true
}

func (t *Table) Delete(key Value) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := t.findSlot(key, HashValue(key))
	e := &t.entries[idx]
	if !e.occupied {
		return false
	}
	e.occupied = false
	e.tombstone = true
	e.key = Value{}
	e.value = Value{}
	t.live--
	return true
}

// Entries returns the live key/value pairs in storage order, used by
// __iter__ and for-in iteration over tables. Storage order is not
// insertion order; table iteration order is unspecified.
func (t *Table) Entries() []struct{ Key, Value Value } {
	out := make([]struct{ Key, Value Value }, 0, t.live)
	for _, e := range t.entries {
		if e.occupied {
			out = append(out, struct{ Key, Value Value }{e.key, e.value})
		}
	}
	return out
}
