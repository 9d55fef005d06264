// Package bytecode defines the opcode set smog's compiler emits and its
// VM interprets, plus the small bit-twiddling helpers for reading and
// writing multi-byte operands out of a packed instruction stream.
//
// The instruction stream is a flat []byte (see object.Code, which pairs
// it with a parallel line-number array and the constant/symbol pools):
// an opcode is always one byte, followed by zero or more operand bytes
// whose width depends on the opcode (u8 for local/upvalue slots and
// argument counts, u16 for constant-pool/symbol indices, signed 16-bit
// for jump offsets).
package bytecode

// Opcode identifies a single bytecode instruction.
type Opcode byte

const (
	// Arithmetic / logic. Binary ops pop two stack slots and push one
	// result; unary ops pop one and push one.
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpNeg
	OpNot
	OpEq
	OpLt
	OpLe
	OpGt
	OpGe
	OpIs // the `is` operator; the VM compares the operands with Value.Equals

	// Stack manipulation.
	OpPop
	OpPopN // u8 operand: pop N values (scope-exit optimization)
	OpDup
	OpNull // push the null literal
	OpTrue
	OpFalse
	OpGetConst // u16 operand: push constants[k]

	// Variables.
	OpGetLocal     // u8 slot
	OpSetLocal     // u8 slot
	OpGetGlobal    // u16 symbol index (name + inline cache)
	OpSetGlobal    // u16 symbol index
	OpDefineGlobal // u16 constant index (name)
	OpGetUpvalue   // u8 index
	OpSetUpvalue   // u8 index
	OpCloseUpvalue

	// Fields / subscript.
	OpGetField  // u16 symbol index
	OpSetField  // u16 symbol index
	OpSubscrGet // obj[idx] via __get__
	OpSubscrSet // obj[idx] = v via __set__

	// Calls. A single n-operand family per call kind (argc-carrying),
	// rather than fixed CALL_0..10/INVOKE_0..10/SUPER_0..10 families;
	// see DESIGN.md for the rationale.
	OpCall       // u8 argc
	OpCallUnpack // u8 argc (final positional arg is spread at runtime)
	OpInvoke     // u8 argc, u16 symbol index (method name)
	OpInvokeUnpack
	OpSuper       // u8 argc, u16 symbol index
	OpSuperUnpack
	OpSuperBind // u16 symbol index: binds an unbound super method reference
	OpReturn

	// Closures / classes.
	OpClosure     // u16 function-const index, followed by 2 bytes per upvalue (isLocal, index)
	OpNewClass    // u16 name-const index
	OpNewSubclass // u16 name-const index (superclass already on stack)
	OpDefMethod   // u16 name-const index (closure already on stack)
	OpDefStatic   // u16 name-const index (closure already on stack): class-level method
	OpNatMethod   // u16 name-const index, u16 native-const index
	OpNative      // u16 native-const index: push a bare native function value

	// Control flow. Jump offsets are signed 16-bit, relative to the byte
	// immediately after the instruction's operand bytes.
	OpJump
	OpJumpT // pop, jump if truthy
	OpJumpF // pop, jump if falsy
	OpForIter
	OpForNext // off16: advances the for-each protocol
	OpEnd     // u8 mark (1=continue, 2=break): not emitted by the compiler, which jumps directly; the VM raises an internal error if it is reached

	// Exceptions.
	OpSetupExcept // off16: handler target
	OpSetupEnsure // off16: handler target
	OpPopHandler
	OpEndHandler
	OpRaise

	// Collections.
	OpNewList
	OpAppendList
	OpNewTuple // u8 count
	OpNewTable
	OpUnpack // u8 count: splits a tuple/list on the stack into N values

	// Imports.
	OpImport     // u16 name-const index
	OpImportFrom // u16 name-const index
	OpImportAs   // u16 name-const index, u16 alias-const index
	OpImportName // u16 module-const index, u16 name-const index
)

var names = [...]string{
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpMod: "MOD", OpPow: "POW",
	OpNeg: "NEG", OpNot: "NOT", OpEq: "EQ", OpLt: "LT", OpLe: "LE", OpGt: "GT", OpGe: "GE", OpIs: "IS",
	OpPop: "POP", OpPopN: "POPN", OpDup: "DUP", OpNull: "NULL", OpTrue: "TRUE", OpFalse: "FALSE",
	OpGetConst: "GET_CONST",
	OpGetLocal: "GET_LOCAL", OpSetLocal: "SET_LOCAL",
	OpGetGlobal: "GET_GLOBAL", OpSetGlobal: "SET_GLOBAL", OpDefineGlobal: "DEFINE_GLOBAL",
	OpGetUpvalue: "GET_UPVALUE", OpSetUpvalue: "SET_UPVALUE", OpCloseUpvalue: "CLOSE_UPVALUE",
	OpGetField: "GET_FIELD", OpSetField: "SET_FIELD", OpSubscrGet: "SUBSCR_GET", OpSubscrSet: "SUBSCR_SET",
	OpCall: "CALL", OpCallUnpack: "CALL_UNPACK",
	OpInvoke: "INVOKE", OpInvokeUnpack: "INVOKE_UNPACK",
	OpSuper: "SUPER", OpSuperUnpack: "SUPER_UNPACK", OpSuperBind: "SUPER_BIND",
	OpReturn: "RETURN",
	OpClosure: "CLOSURE", OpNewClass: "NEW_CLASS", OpNewSubclass: "NEW_SUBCLASS",
	OpDefMethod: "DEF_METHOD", OpDefStatic: "DEF_STATIC", OpNatMethod: "NAT_METHOD", OpNative: "NATIVE",
	OpJump: "JUMP", OpJumpT: "JUMPT", OpJumpF: "JUMPF", OpForIter: "FOR_ITER", OpForNext: "FOR_NEXT", OpEnd: "END",
	OpSetupExcept: "SETUP_EXCEPT", OpSetupEnsure: "SETUP_ENSURE", OpPopHandler: "POP_HANDLER",
	OpEndHandler: "END_HANDLER", OpRaise: "RAISE",
	OpNewList: "NEW_LIST", OpAppendList: "APPEND_LIST", OpNewTuple: "NEW_TUPLE", OpNewTable: "NEW_TABLE", OpUnpack: "UNPACK",
	OpImport: "IMPORT", OpImportFrom: "IMPORT_FROM", OpImportAs: "IMPORT_AS", OpImportName: "IMPORT_NAME",
}

// String returns the opcode's mnemonic, used by the disassembler and by
// error messages that name an offending instruction.
func (op Opcode) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return "UNKNOWN"
}

// OperandWidths reports how many extra bytes follow this opcode, broken
// down per distinct operand (so a two-operand opcode like OpInvoke
// reports [1, 2] for its u8 argc and u16 symbol index). OpClosure
// reports only its u16; the 2 bytes per upvalue that follow it are not
// included.
func (op Opcode) OperandWidths() []int {
	switch op {
	case OpPopN, OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue,
		OpCall, OpCallUnpack, OpNewTuple, OpUnpack, OpEnd:
		return []int{1}
	case OpGetConst, OpGetGlobal, OpSetGlobal, OpDefineGlobal,
		OpGetField, OpSetField, OpNewClass, OpNewSubclass, OpDefMethod, OpDefStatic,
		OpNative, OpSuperBind, OpClosure:
		return []int{2}
	case OpJump, OpJumpT, OpJumpF, OpForNext, OpSetupExcept, OpSetupEnsure:
		return []int{2}
	case OpInvoke, OpInvokeUnpack, OpSuper, OpSuperUnpack:
		return []int{1, 2}
	case OpNatMethod, OpImportAs, OpImportName:
		return []int{2, 2}
	case OpImport, OpImportFrom:
		return []int{2}
	default:
		return nil
	}
}

// PutU16 writes a big-endian uint16 into b at offset.
func PutU16(b []byte, off int, v uint16) {
	b[off] = byte(v >> 8)
	b[off+1] = byte(v)
}

// U16 reads a big-endian uint16 from b at offset.
func U16(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}

// PutI16 writes a big-endian signed 16-bit offset into b.
func PutI16(b []byte, off int, v int16) { PutU16(b, off, uint16(v)) }

// I16 reads a big-endian signed 16-bit offset from b.
func I16(b []byte, off int) int16 { return int16(U16(b, off)) }
