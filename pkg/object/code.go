package object

import "github.com/kristofer/smogvm/pkg/bytecode"

// SymbolTag classifies what an inline-cache Symbol memoizes.
type SymbolTag byte

const (
	SymMethod SymbolTag = iota
	SymBoundMethod
	SymField
	SymGlobal
)

// Symbol is an inline-cache slot: the compiler allocates one per
// name-referencing opcode that supports caching (OpGetField, OpSetField,
// OpGetGlobal, OpSetGlobal, OpInvoke, OpSuper). NameConst indexes the
// constant pool for the identifier text; the remaining fields memoize
// the last successful lookup, keyed by class/module identity so a
// receiver-type change invalidates the cache with a single pointer
// compare.
type Symbol struct {
	NameConst int
	Tag       SymbolTag

	// Key is the class (method/field) or module (global) identity the
	// cached Offset/Method was resolved against. A mismatch invalidates.
	Key any

	Offset int   // resolved field slot, for SymField
	Method Value // resolved method/bound-method, for SymMethod/SymBoundMethod
}

// Cached reports whether this slot currently holds a resolution.
func (s *Symbol) Cached() bool { return s.Key != nil }

// Invalidate clears a cached resolution, forcing the next lookup to miss
// and re-resolve.
func (s *Symbol) Invalidate() { s.Key = nil }

// MaxConstants is the hard cap on a single function's constant pool:
// at most 65,535 entries.
const MaxConstants = 65535

// MaxLocals is the hard cap on locals declared within one function:
// at most 256 per function.
const MaxLocals = 256

// Code is a growable instruction stream paired with the bookkeeping the
// compiler and VM need to execute and report errors about it: one
// source line per emitted byte, a deduplicated constant pool, and the
// symbol pool inline caches key off of. Parallel arrays (Instructions,
// Lines) over a struct-of-arrays-of-structs, matching the prevailing
// preference for flat parallel slices.
type Code struct {
	Instructions []byte
	Lines        []int
	Constants    []Value
	Symbols      []Symbol
}

// NewCode returns an empty Code ready for the compiler to emit into.
func NewCode() *Code {
	return &Code{}
}

// WriteByte appends a single byte (an opcode or an operand byte) and
// records the source line it came from. Returns the offset the byte was
// written at, which callers patching jump targets need.
func (c *Code) WriteByte(b byte, line int) int {
	c.Instructions = append(c.Instructions, b)
	c.Lines = append(c.Lines, line)
	return len(c.Instructions) - 1
}

// WriteOp appends an opcode byte.
func (c *Code) WriteOp(op bytecode.Opcode, line int) int {
	return c.WriteByte(byte(op), line)
}

// WriteU16 appends a big-endian uint16 operand (two bytes, same line).
func (c *Code) WriteU16(v uint16, line int) int {
	off := c.WriteByte(byte(v>>8), line)
	c.WriteByte(byte(v), line)
	return off
}

// PatchU16 overwrites a previously written uint16 operand, used for jump
// back-patching once the target address is known.
func (c *Code) PatchU16(off int, v uint16) {
	bytecode.PutU16(c.Instructions, off, v)
}

// LineAt returns the source line recorded for the byte at offset.
func (c *Code) LineAt(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// AddConstant deduplicates by Value equality (primitive values only;
// object constants such as nested function prototypes are never
// considered equal to each other) and returns the pool index, or -1 if
// the pool is already at MaxConstants.
func (c *Code) AddConstant(v Value) int {
	for i, existing := range c.Constants {
		if constantEquals(existing, v) {
			return i
		}
	}
	if len(c.Constants) >= MaxConstants {
		return -1
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// constantEquals dedupes primitive constants (numbers, bools, null,
// interned strings) but never folds together two object constants of a
// kind the compiler doesn't intern (e.g. two function prototypes), since
// those aren't meant to be shared.
func constantEquals(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	if a.Kind() == KindObject {
		ak, aok := a.ObjKind()
		bk, _ := b.ObjKind()
		if aok && ak == ObjString && bk == ObjString {
			return a.AsObject().(*String) == b.AsObject().(*String)
		}
		return false
	}
	return a.Equals(b)
}

// AddSymbol appends a new inline-cache slot with an initially empty
// cache and returns its index.
func (c *Code) AddSymbol(nameConst int, tag SymbolTag) int {
	c.Symbols = append(c.Symbols, Symbol{NameConst: nameConst, Tag: tag})
	return len(c.Symbols) - 1
}
