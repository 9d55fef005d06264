package compiler

import (
	"testing"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/object"
	"github.com/kristofer/smogvm/pkg/parser"
)

func compileSource(t *testing.T, src string) *object.Function {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	heap := object.NewHeap()
	module := object.NewModule(heap.Intern("test"))
	fn, err := Compile(program, heap, module)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return fn
}

// ops extracts just the opcode mnemonics from a Code buffer, skipping
// operand bytes, for loose structural assertions that don't hardcode
// exact byte offsets. OpClosure carries a variable-length tail (two
// bytes per upvalue) that OperandWidths can't express since it depends
// on the referenced function's UpvalCount, not the opcode alone; this
// walker special-cases it the same way a disassembler or the VM's own
// fetch loop has to.
func ops(code *object.Code) []bytecode.Opcode {
	var out []bytecode.Opcode
	ins := code.Instructions
	for i := 0; i < len(ins); {
		op := bytecode.Opcode(ins[i])
		out = append(out, op)
		i++
		if op == bytecode.OpClosure {
			idx := bytecode.U16(ins, i)
			i += 2
			if fn, ok := code.Constants[idx].AsObject().(*object.Function); ok {
				i += 2 * fn.UpvalCount
			}
			continue
		}
		for _, w := range op.OperandWidths() {
			i += w
		}
	}
	return out
}

func containsOp(got []bytecode.Opcode, op bytecode.Opcode) bool {
	for _, g := range got {
		if g == op {
			return true
		}
	}
	return false
}

func TestCompileNumberLiteral(t *testing.T) {
	fn := compileSource(t, "42")
	got := ops(fn.Code)
	if len(got) < 3 {
		t.Fatalf("expected at least GET_CONST, POP, NULL/RETURN; got %v", got)
	}
	if got[0] != bytecode.OpGetConst {
		t.Errorf("expected first op GET_CONST, got %v", got[0])
	}
	if got[1] != bytecode.OpPop {
		t.Errorf("expected second op POP (expr stmt), got %v", got[1])
	}
	if fn.Code.Constants[0].AsNumber() != 42 {
		t.Errorf("expected constant 42, got %v", fn.Code.Constants[0])
	}
}

func TestCompileVarDeclGlobal(t *testing.T) {
	fn := compileSource(t, "var x = 1")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpDefineGlobal) {
		t.Errorf("expected OpDefineGlobal for top-level var decl, got %v", got)
	}
}

func TestCompileIfNoStrayPop(t *testing.T) {
	fn := compileSource(t, "if true do var y = 1 end")
	got := ops(fn.Code)
	// OpJumpF pops its own condition, and the block-local `var y` is
	// discarded with OpPopN, so no bare OpPop appears anywhere.
	if !containsOp(got, bytecode.OpJumpF) {
		t.Errorf("expected OpJumpF, got %v", got)
	}
	if containsOp(got, bytecode.OpPop) {
		t.Errorf("expected no OpPop: JUMPF pops its own condition, got %v", got)
	}
}

func TestCompileAndShortCircuit(t *testing.T) {
	fn := compileSource(t, "var z = true and false")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpDup) {
		t.Errorf("expected OpDup for and/or short-circuit pattern, got %v", got)
	}
	if !containsOp(got, bytecode.OpJumpF) {
		t.Errorf("expected OpJumpF for 'and', got %v", got)
	}
}

func TestCompileOrShortCircuit(t *testing.T) {
	fn := compileSource(t, "var z = true or false")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpJumpT) {
		t.Errorf("expected OpJumpT for 'or', got %v", got)
	}
}

func TestCompileWhileLoop(t *testing.T) {
	fn := compileSource(t, "while true do break end")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpJump) {
		t.Errorf("expected a jump for break, got %v", got)
	}
}

func TestCompileForEachUsesIterProtocol(t *testing.T) {
	fn := compileSource(t, "foreach v in items do end")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpForIter) {
		t.Errorf("expected OpForIter, got %v", got)
	}
	if !containsOp(got, bytecode.OpForNext) {
		t.Errorf("expected OpForNext, got %v", got)
	}
}

func TestCompileFunctionClosure(t *testing.T) {
	fn := compileSource(t, "fun add(a, b) return a + b end")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpClosure) {
		t.Errorf("expected OpClosure for a fun decl, got %v", got)
	}
	// the closure's constant should be a Function with arity 2
	foundFn := false
	for _, c := range fn.Code.Constants {
		if c.IsObject() {
			if f, ok := c.AsObject().(*object.Function); ok {
				foundFn = true
				if f.Arity != 2 {
					t.Errorf("expected arity 2, got %d", f.Arity)
				}
			}
		}
	}
	if !foundFn {
		t.Errorf("expected a Function constant in the pool")
	}
}

func TestCompileDefaultParamsConstantFolded(t *testing.T) {
	fn := compileSource(t, "fun greet(name, greeting = \"hi\") return greeting end")
	for _, c := range fn.Code.Constants {
		if c.IsObject() {
			if f, ok := c.AsObject().(*object.Function); ok {
				if len(f.Defaults) != 1 {
					t.Fatalf("expected 1 default value, got %d", len(f.Defaults))
				}
				if !f.Defaults[0].IsObject() {
					t.Errorf("expected default to be an interned string value")
				}
			}
		}
	}
}

func TestCompileClassWithStaticMethod(t *testing.T) {
	fn := compileSource(t, `
class Box is Object
  fun Box(v)
    this.v = v
  end
  static zero()
    return Box(0)
  end
end
`)
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpDefStatic) {
		t.Errorf("expected OpDefStatic for a static method, got %v", got)
	}
	if !containsOp(got, bytecode.OpDefMethod) {
		t.Errorf("expected OpDefMethod for the instance method, got %v", got)
	}
	if !containsOp(got, bytecode.OpNewSubclass) {
		t.Errorf("expected OpNewSubclass (the class names a superclass), got %v", got)
	}
}

func TestCompileClassWithSuperclass(t *testing.T) {
	fn := compileSource(t, `
class Base is Object
end
class Derived is Base
end
`)
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpNewSubclass) {
		t.Errorf("expected OpNewSubclass for a subclass decl, got %v", got)
	}
}

func TestCompileTryExceptEnsure(t *testing.T) {
	fn := compileSource(t, `
try
  var x = 1
except ValueError as e do
  var y = 2
ensure
  var z = 3
end
`)
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpSetupExcept) {
		t.Errorf("expected OpSetupExcept, got %v", got)
	}
	if !containsOp(got, bytecode.OpSetupEnsure) {
		t.Errorf("expected OpSetupEnsure, got %v", got)
	}
	if !containsOp(got, bytecode.OpPopHandler) {
		t.Errorf("expected OpPopHandler, got %v", got)
	}
	if !containsOp(got, bytecode.OpRaise) {
		t.Errorf("expected a re-raise in the dispatch-miss/unwind path, got %v", got)
	}
}

func TestCompileTryWithoutEnsure(t *testing.T) {
	fn := compileSource(t, `
try
  var x = 1
except do
  var y = 2
end
`)
	got := ops(fn.Code)
	if containsOp(got, bytecode.OpSetupEnsure) {
		t.Errorf("did not expect OpSetupEnsure when no ensure clause is present")
	}
	if !containsOp(got, bytecode.OpSetupExcept) {
		t.Errorf("expected OpSetupExcept, got %v", got)
	}
}

func TestCompileWithStatementDesugars(t *testing.T) {
	fn := compileSource(t, `with opener() as f do end`)
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpSetupEnsure) {
		t.Errorf("expected with-statement to desugar through OpSetupEnsure, got %v", got)
	}
	if !containsOp(got, bytecode.OpInvoke) {
		t.Errorf("expected an __exit__ invoke, got %v", got)
	}
}

func TestCompileSubscriptCompoundAssignEvaluatesReceiverOnce(t *testing.T) {
	fn := compileSource(t, "counters()[key()] += 1")
	got := ops(fn.Code)
	// Receiver/index each compiled once, then read back via OpGetLocal
	// for both the get half and the set half.
	n := 0
	for _, o := range got {
		if o == bytecode.OpGetLocal {
			n++
		}
	}
	if n < 2 {
		t.Errorf("expected at least 2 OpGetLocal reads of the cached receiver/index, got %d (%v)", n, got)
	}
	if !containsOp(got, bytecode.OpSubscrSet) {
		t.Errorf("expected OpSubscrSet, got %v", got)
	}
}

func TestCompileUnpackAssignFixed(t *testing.T) {
	fn := compileSource(t, "(a, b) = pair")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpUnpack) {
		t.Errorf("expected OpUnpack, got %v", got)
	}
}

func TestCompileUnpackAssignWithRest(t *testing.T) {
	fn := compileSource(t, "(a, *rest) = items")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpUnpack) {
		t.Errorf("expected OpUnpack for the fixed prefix, got %v", got)
	}
	if !containsOp(got, bytecode.OpInvoke) {
		t.Errorf("expected an invoke of slice() for the rest target, got %v", got)
	}
}

func TestCompileImportForms(t *testing.T) {
	fn := compileSource(t, "import mathlib")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpImport) {
		t.Errorf("expected OpImport, got %v", got)
	}
}

func TestCompileImportAs(t *testing.T) {
	fn := compileSource(t, "import mathlib as m")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpImportAs) {
		t.Errorf("expected OpImportAs, got %v", got)
	}
}

func TestCompileImportFrom(t *testing.T) {
	fn := compileSource(t, "import sqrt from mathlib")
	got := ops(fn.Code)
	if !containsOp(got, bytecode.OpImportFrom) {
		t.Errorf("expected OpImportFrom, got %v", got)
	}
	if !containsOp(got, bytecode.OpImportName) {
		t.Errorf("expected OpImportName, got %v", got)
	}
}

func TestCompileBreakOutsideLoopIsError(t *testing.T) {
	p := parser.New("break")
	program, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	heap := object.NewHeap()
	module := object.NewModule(heap.Intern("test"))
	_, err = Compile(program, heap, module)
	if err == nil {
		t.Fatalf("expected a compile error for break outside a loop")
	}
}
