package object

// String is an immutable byte sequence with a precomputed hash. Strings
// are interned: Intern on the owning Heap returns the same *String
// for equal content, so String pointer identity is sufficient for
// semantic equality.
type String struct {
	Header
	Bytes []byte
	Hash  uint32
}

func (s *String) Go() string { return string(s.Bytes) }

// hashBytes computes a 32-bit FNV-1a-style hash. Hand-rolled rather than
// hash/fnv because the whole computation is one inlined loop over a
// byte slice we already have in hand; pulling in hash.Hash32's
// Write/Sum32 interface would cost an allocation-free loop nothing but
// an extra indirection. See DESIGN.md's pkg/object entry.
func hashBytes(b []byte) uint32 {
	const (
		offsetBasis uint32 = 2166136261
		prime       uint32 = 16777619
	)
	h := offsetBasis
	for _, c := range b {
		h ^= uint32(c)
		h *= prime
	}
	return h
}
