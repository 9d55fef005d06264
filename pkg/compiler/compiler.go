// Package compiler compiles an AST into bytecode: a single recursive
// walk emitting instructions directly, with no separate optimization
// pass. Each function body (including the implicit top-level module
// body) gets its own *Compiler, chained to its lexically enclosing one
// so upvalue resolution can walk outward the way a nested-scope
// compiler for this kind of language always does.
//
// Exception unwinding contract (shared with pkg/vm): raising pops the
// innermost handler record (SETUP_EXCEPT or SETUP_ENSURE, whichever is
// topmost) off the handler stack and jumps to its recorded target with
// the exception value pushed on top of the operand stack. The compiler
// either consumes that value (an except clause that matches) or emits
// another RAISE to keep propagating it outward (a non-matching except
// clause, or an ensure block finishing its cleanup).
package compiler

import (
	"fmt"

	"github.com/kristofer/smogvm/pkg/ast"
	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/object"
)

type localVar struct {
	name       string
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   int
	isLocal bool
}

// loopCtx tracks the jump-patch bookkeeping for one enclosing loop:
// where `continue` jumps to, and the list of `break` jump offsets still
// waiting to be patched to the loop's end once it's known.
type loopCtx struct {
	continueTarget int
	breakJumps     []int
	localBase      int // local count at loop entry, for break/continue stack cleanup
	tryDepth       int // try-nesting depth at loop entry, so break/continue can reject jumping out of a handler
}

// classCtx carries the compile-time context a method body needs:
// whether `super` resolves to anything, and the field names that get a
// default `null` initializer at the top of the constructor.
type classCtx struct {
	name     string
	hasSuper bool
	fields   []string
}

// Compiler compiles one function body (or the implicit top-level
// module body) into a *object.Function.
type Compiler struct {
	enclosing *Compiler
	heap      *object.Heap
	module    *object.Module
	fn        *object.Function
	code      *object.Code

	scopeDepth int
	locals     []localVar
	upvalues   []upvalueRef

	loops    []*loopCtx
	class    *classCtx
	tryDepth int

	errors []string
}

// maxTryDepth bounds nested try statements within a single function
// body: each level holds a SETUP_EXCEPT/SETUP_ENSURE handler record
// live on vm.handlers for the duration of its body, so unbounded
// nesting is unbounded handler-stack growth per call frame.
const maxTryDepth = 64

// Compile compiles a whole program into the module's top-level
// Function (the implicit "script" function every module runs as its
// Main), analogous to clox's top-level implicit function. Declarations
// at this level bind into module.Globals rather than local slots.
func Compile(program *ast.Program, heap *object.Heap, module *object.Module) (*object.Function, error) {
	c := &Compiler{heap: heap, module: module}
	c.fn = object.NewFunction(heap.Intern("<module>"), module)
	c.code = c.fn.Code

	for _, stmt := range program.Statements {
		c.compileStatement(stmt)
	}
	c.emitReturn(0)
	heap.Track(c.fn, 64+len(c.code.Instructions))
	module.Main = c.fn

	if len(c.errors) > 0 {
		return c.fn, fmt.Errorf("compile errors: %v", c.errors)
	}
	return c.fn, nil
}

func (c *Compiler) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

// ---- emit helpers ----

func (c *Compiler) emit(op bytecode.Opcode, line int) int { return c.code.WriteOp(op, line) }

func (c *Compiler) emitByte(b byte, line int) int { return c.code.WriteByte(b, line) }

func (c *Compiler) emitU16(v uint16, line int) int { return c.code.WriteU16(v, line) }

func (c *Compiler) emitReturn(line int) {
	c.emit(bytecode.OpNull, line)
	c.emit(bytecode.OpReturn, line)
}

// emitJump writes a jump (or handler-setup) opcode with a placeholder
// u16 offset and returns the offset of the placeholder for patchJump.
func (c *Compiler) emitJump(op bytecode.Opcode, line int) int {
	c.emit(op, line)
	return c.emitU16(0, line)
}

func (c *Compiler) patchJump(placeholder int) {
	target := len(c.code.Instructions)
	rel := target - (placeholder + 2)
	c.code.PatchU16(placeholder, uint16(int16(rel)))
}

// emitLoop emits an unconditional jump back to a known earlier offset.
func (c *Compiler) emitLoop(target int, line int) {
	c.emit(bytecode.OpJump, line)
	off := c.emitU16(0, line)
	rel := target - (off + 2)
	c.code.PatchU16(off, uint16(int16(rel)))
}

func (c *Compiler) addConstant(v object.Value) uint16 {
	idx := c.code.AddConstant(v)
	if idx < 0 {
		c.errorf("constant pool exhausted (limit %d)", object.MaxConstants)
		return 0
	}
	return uint16(idx)
}

func (c *Compiler) internConst(s string) uint16 {
	return c.addConstant(object.FromObj(c.heap.Intern(s)))
}

func (c *Compiler) addSymbol(name string, tag object.SymbolTag) uint16 {
	nameConst := c.internConst(name)
	idx := c.code.AddSymbol(int(nameConst), tag)
	return uint16(idx)
}

func (c *Compiler) emitInvoke(name string, argc int, line int) {
	sym := c.addSymbol(name, object.SymMethod)
	c.emit(bytecode.OpInvoke, line)
	c.emitByte(byte(argc), line)
	c.emitU16(sym, line)
}

// ---- scope management ----

func (c *Compiler) beginScope() { c.scopeDepth++ }

// endScope pops every local declared in the scope being closed. Locals
// captured by a nested closure are individually closed with
// OpCloseUpvalue (moving the value off the stack into the heap so the
// closure can keep observing writes after the scope ends); the rest
// are dropped with a single OpPopN.
func (c *Compiler) endScope(line int) {
	c.scopeDepth--
	n := 0
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		last := c.locals[len(c.locals)-1]
		c.locals = c.locals[:len(c.locals)-1]
		if last.isCaptured {
			if n > 0 {
				c.emit(bytecode.OpPopN, line)
				c.emitByte(byte(n), line)
				n = 0
			}
			c.emit(bytecode.OpCloseUpvalue, line)
		} else {
			n++
		}
	}
	if n > 0 {
		c.emit(bytecode.OpPopN, line)
		c.emitByte(byte(n), line)
	}
}

// discardScope pops the compiler's bookkeeping for the current scope
// without emitting any pop bytecode, for the rare case where the
// runtime effect already happened via some other opcode (compound
// assignment to a subscript target consumes its own temporaries as
// part of OpSubscrSet; see compileCompoundAssign).
func (c *Compiler) discardScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) declareLocal(name string) int {
	if len(c.locals) >= object.MaxLocals {
		c.errorf("too many locals in one function (limit %d)", object.MaxLocals)
		return 0
	}
	c.locals = append(c.locals, localVar{name: name, depth: c.scopeDepth})
	return len(c.locals) - 1
}

func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

// resolveUpvalue walks the enclosing-compiler chain, adding an upvalue
// slot at every level between the defining function and this one when
// the name resolves to a local further out (clox's capture algorithm).
func (c *Compiler) resolveUpvalue(name string) int {
	if c.enclosing == nil {
		return -1
	}
	if idx := c.enclosing.resolveLocal(name); idx != -1 {
		c.enclosing.locals[idx].isCaptured = true
		return c.addUpvalue(idx, true)
	}
	if idx := c.enclosing.resolveUpvalue(name); idx != -1 {
		return c.addUpvalue(idx, false)
	}
	return -1
}

func (c *Compiler) addUpvalue(index int, isLocal bool) int {
	for i, u := range c.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	c.upvalues = append(c.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(c.upvalues) - 1
}

// compileIdentifierRef resolves a bare name to a local, upvalue, or
// global read and emits the matching get opcode.
func (c *Compiler) compileIdentifierRef(name string, line int) {
	if idx := c.resolveLocal(name); idx != -1 {
		c.emit(bytecode.OpGetLocal, line)
		c.emitByte(byte(idx), line)
		return
	}
	if idx := c.resolveUpvalue(name); idx != -1 {
		c.emit(bytecode.OpGetUpvalue, line)
		c.emitByte(byte(idx), line)
		return
	}
	sym := c.addSymbol(name, object.SymGlobal)
	c.emit(bytecode.OpGetGlobal, line)
	c.emitU16(sym, line)
}

// emitIdentifierSet resolves a bare name to a local, upvalue, or global
// write. The Set* opcodes leave the assigned value on the stack (they
// pop the old slot contents implicitly and push the new value back),
// so an assignment expression's value is whatever remains after this.
func (c *Compiler) emitIdentifierSet(name string, line int) {
	if idx := c.resolveLocal(name); idx != -1 {
		c.emit(bytecode.OpSetLocal, line)
		c.emitByte(byte(idx), line)
		return
	}
	if idx := c.resolveUpvalue(name); idx != -1 {
		c.emit(bytecode.OpSetUpvalue, line)
		c.emitByte(byte(idx), line)
		return
	}
	sym := c.addSymbol(name, object.SymGlobal)
	c.emit(bytecode.OpSetGlobal, line)
	c.emitU16(sym, line)
}

func (c *Compiler) emitBinaryOp(op ast.BinaryOp, line int) {
	switch op {
	case ast.BinAdd:
		c.emit(bytecode.OpAdd, line)
	case ast.BinSub:
		c.emit(bytecode.OpSub, line)
	case ast.BinMul:
		c.emit(bytecode.OpMul, line)
	case ast.BinDiv:
		c.emit(bytecode.OpDiv, line)
	case ast.BinMod:
		c.emit(bytecode.OpMod, line)
	case ast.BinPow:
		c.emit(bytecode.OpPow, line)
	case ast.BinEq:
		c.emit(bytecode.OpEq, line)
	case ast.BinNeq:
		c.emit(bytecode.OpEq, line)
		c.emit(bytecode.OpNot, line)
	case ast.BinLt:
		c.emit(bytecode.OpLt, line)
	case ast.BinLe:
		c.emit(bytecode.OpLe, line)
	case ast.BinGt:
		c.emit(bytecode.OpGt, line)
	case ast.BinGe:
		c.emit(bytecode.OpGe, line)
	case ast.BinIs:
		c.emit(bytecode.OpIs, line)
	default:
		c.errorf("unsupported binary operator %v", op)
	}
}

// constantFold evaluates the small set of expression forms legal as a
// default-parameter value at compile time; anything else is rejected
// since object.Function.Defaults stores already-evaluated Values, not
// expressions to run per call.
func (c *Compiler) constantFold(e ast.Expression) (object.Value, bool) {
	switch n := e.(type) {
	case *ast.NumberLit:
		return object.Num(n.Value), true
	case *ast.StringLit:
		return object.FromObj(c.heap.Intern(n.Value)), true
	case *ast.BoolLit:
		return object.Bool(n.Value), true
	case *ast.NullLit:
		return object.Null, true
	case *ast.UnaryExpr:
		if n.Op == ast.UnaryNeg {
			if v, ok := c.constantFold(n.Operand); ok && v.IsNumber() {
				return object.Num(-v.AsNumber()), true
			}
		}
	}
	return object.Null, false
}

// ---- statements ----

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		c.compileExpression(s.Expr)
		c.emit(bytecode.OpPop, s.Line)
	case *ast.VarDecl:
		c.compileVarDecl(s)
	case *ast.FunDecl:
		c.compileFunDecl(s)
	case *ast.ClassDecl:
		c.compileClassDecl(s)
	case *ast.BlockStmt:
		c.beginScope()
		for _, st := range s.Statements {
			c.compileStatement(st)
		}
		c.endScope(s.Line)
	case *ast.IfStmt:
		c.compileIf(s)
	case *ast.WhileStmt:
		c.compileWhile(s)
	case *ast.ForStmt:
		c.compileFor(s)
	case *ast.ForEachStmt:
		c.compileForEach(s)
	case *ast.BreakStmt:
		c.compileBreak(s.Line)
	case *ast.ContinueStmt:
		c.compileContinue(s.Line)
	case *ast.ReturnStmt:
		if c.enclosing == nil {
			c.errorf("'return' outside of a function")
		}
		if c.fn.IsCtor {
			c.errorf("'return' is not allowed inside a constructor")
		}
		if s.Value != nil {
			c.compileExpression(s.Value)
		} else {
			c.emit(bytecode.OpNull, s.Line)
		}
		c.emit(bytecode.OpReturn, s.Line)
	case *ast.RaiseStmt:
		if s.Value != nil {
			c.compileExpression(s.Value)
		} else {
			c.emit(bytecode.OpNull, s.Line)
		}
		c.emit(bytecode.OpRaise, s.Line)
	case *ast.TryStmt:
		c.compileTry(s)
	case *ast.WithStmt:
		c.compileWith(s)
	case *ast.ImportStmt:
		c.compileImport(s)
	default:
		c.errorf("unknown statement type %T", stmt)
	}
}

// declareBinding binds a name as a module-level global at the
// outermost compiler (top-level `var`/`static` and top-level `fun`/
// `class` all become globals, since the top level has no enclosing
// scope to make a local slot meaningful across separate statements)
// or as a local slot everywhere else, including nested blocks.
func (c *Compiler) declareBinding(name string, line int) {
	if c.scopeDepth == 0 && c.enclosing == nil {
		nameConst := c.internConst(name)
		c.emit(bytecode.OpDefineGlobal, line)
		c.emitU16(nameConst, line)
		return
	}
	c.declareLocal(name)
}

func (c *Compiler) compileVarDecl(s *ast.VarDecl) {
	if s.Init != nil {
		c.compileExpression(s.Init)
	} else {
		c.emit(bytecode.OpNull, s.Line)
	}
	c.declareBinding(s.Name, s.Line)
}

func (c *Compiler) compileFunDecl(s *ast.FunDecl) {
	c.compileFunctionLit(s.Fn, s.Name, false)
	c.declareBinding(s.Name, s.Line)
}

// compileFunctionLit compiles a nested function body with its own
// Compiler, then emits OpClosure (carrying the resulting upvalue
// descriptors) into the enclosing code stream. isCtor marks a class
// constructor method, whose body gets a default `null` initializer for
// every field the enclosing class declares before the user's own
// statements run.
func (c *Compiler) compileFunctionLit(lit *ast.FunctionLit, name string, isCtor bool) *object.Function {
	sub := &Compiler{enclosing: c, heap: c.heap, module: c.module, class: c.class}
	if name == "" {
		name = "<anonymous>"
	}
	sub.fn = object.NewFunction(c.heap.Intern(name), c.module)
	sub.code = sub.fn.Code
	sub.fn.Arity = len(lit.Params)
	sub.fn.Vararg = lit.Vararg
	sub.fn.IsCtor = isCtor
	sub.fn.IsMethod = c.class != nil

	sub.beginScope()
	if c.class != nil {
		sub.declareLocal("this")
	}
	for _, p := range lit.Params {
		sub.declareLocal(p)
	}
	if len(lit.Defaults) > 0 {
		start := len(lit.Defaults)
		for i, d := range lit.Defaults {
			if d != nil {
				start = i
				break
			}
		}
		for i := start; i < len(lit.Defaults); i++ {
			d := lit.Defaults[i]
			if d == nil {
				sub.errorf("parameter %d: default arguments must be a trailing suffix", i)
				continue
			}
			v, ok := sub.constantFold(d)
			if !ok {
				sub.errorf("default value for parameter %d must be a constant expression", i)
				v = object.Null
			}
			sub.fn.Defaults = append(sub.fn.Defaults, v)
		}
	}
	if isCtor && sub.class != nil {
		for _, f := range sub.class.fields {
			sub.emitThisRef(lit.Line)
			sub.emit(bytecode.OpNull, lit.Line)
			sym := sub.addSymbol(f, object.SymField)
			sub.emit(bytecode.OpSetField, lit.Line)
			sub.emitU16(sym, lit.Line)
			sub.emit(bytecode.OpPop, lit.Line)
		}
	}
	for _, st := range lit.Body {
		sub.compileStatement(st)
	}
	sub.emitReturn(lit.Line)
	sub.fn.UpvalCount = len(sub.upvalues)
	c.errors = append(c.errors, sub.errors...)
	c.heap.Track(sub.fn, 64+len(sub.code.Instructions))

	fnConst := c.addConstant(object.FromObj(sub.fn))
	c.emit(bytecode.OpClosure, lit.Line)
	c.emitU16(fnConst, lit.Line)
	for _, u := range sub.upvalues {
		isLocal := byte(0)
		if u.isLocal {
			isLocal = 1
		}
		c.emitByte(isLocal, lit.Line)
		c.emitByte(byte(u.index), lit.Line)
	}
	return sub.fn
}

func (c *Compiler) compileClassDecl(s *ast.ClassDecl) {
	nameConst := c.internConst(s.Name)
	hasSuper := s.Super != ""
	if hasSuper {
		c.compileIdentifierRef(s.Super, s.Line)
		c.emit(bytecode.OpNewSubclass, s.Line)
	} else {
		c.emit(bytecode.OpNewClass, s.Line)
	}
	c.emitU16(nameConst, s.Line)

	prevClass := c.class
	c.class = &classCtx{name: s.Name, hasSuper: hasSuper, fields: s.Fields}

	for _, m := range s.Methods {
		c.emit(bytecode.OpDup, m.Line)
		c.compileFunctionLit(m.Fn, s.Name+"."+m.Name, m.IsCtor)
		if m.IsStatic {
			c.emit(bytecode.OpDefStatic, m.Line)
		} else {
			c.emit(bytecode.OpDefMethod, m.Line)
		}
		c.emitU16(c.internConst(m.Name), m.Line)
	}

	c.class = prevClass
	c.declareBinding(s.Name, s.Line)
}

func (c *Compiler) compileIf(s *ast.IfStmt) {
	c.compileExpression(s.Cond)
	thenJump := c.emitJump(bytecode.OpJumpF, s.Line) // pops cond
	c.compileStatement(s.Then)
	elseJump := c.emitJump(bytecode.OpJump, s.Line)
	c.patchJump(thenJump)
	if s.Else != nil {
		c.compileStatement(s.Else)
	}
	c.patchJump(elseJump)
}

func (c *Compiler) compileWhile(s *ast.WhileStmt) {
	loopStart := len(c.code.Instructions)
	c.compileExpression(s.Cond)
	exitJump := c.emitJump(bytecode.OpJumpF, s.Line) // pops cond

	loop := &loopCtx{continueTarget: loopStart, localBase: len(c.locals), tryDepth: c.tryDepth}
	c.loops = append(c.loops, loop)
	c.compileStatement(s.Body)
	c.loops = c.loops[:len(c.loops)-1]

	c.emitLoop(loopStart, s.Line)
	c.patchJump(exitJump)
	for _, b := range loop.breakJumps {
		c.patchJump(b)
	}
}

func (c *Compiler) compileFor(s *ast.ForStmt) {
	c.beginScope()
	if s.Init != nil {
		c.compileStatement(s.Init)
	}
	condStart := len(c.code.Instructions)
	exitJump := -1
	if s.Cond != nil {
		c.compileExpression(s.Cond)
		exitJump = c.emitJump(bytecode.OpJumpF, s.Line) // pops cond
	}

	loop := &loopCtx{localBase: len(c.locals), tryDepth: c.tryDepth}
	c.loops = append(c.loops, loop)

	bodyJump := c.emitJump(bytecode.OpJump, s.Line)
	postStart := len(c.code.Instructions)
	if s.Post != nil {
		c.compileStatement(s.Post)
	}
	c.emitLoop(condStart, s.Line)
	c.patchJump(bodyJump)
	loop.continueTarget = postStart

	c.compileStatement(s.Body)
	c.emitLoop(postStart, s.Line)

	c.loops = c.loops[:len(c.loops)-1]
	if exitJump != -1 {
		c.patchJump(exitJump)
	}
	for _, b := range loop.breakJumps {
		c.patchJump(b)
	}
	c.endScope(s.Line)
}

// compileForEach desugars `foreach v in it do body end` using the
// __iter__/__next__ value protocol: __iter__() returns an iterator,
// and __next__() returns either the next value or null to signal
// exhaustion. OpForIter fuses the `__iter__()` call; OpForNext peeks
// the iterator, invokes `__next__`, and either pushes null and jumps
// to the loop end (exhausted) or pushes the yielded value atop the
// iterator and falls through into the body, which treats that pushed
// value as the loop variable's stack slot.
func (c *Compiler) compileForEach(s *ast.ForEachStmt) {
	c.beginScope()
	c.compileExpression(s.Iterable)
	c.emit(bytecode.OpForIter, s.Line)
	c.declareLocal("$iter") // tracks the iterator slot so the outer endScope pops it

	loopStart := len(c.code.Instructions)
	exitJump := c.emitJump(bytecode.OpForNext, s.Line)

	c.beginScope()
	c.declareLocal(s.VarName) // occupies the slot OpForNext just pushed into

	loop := &loopCtx{continueTarget: loopStart, localBase: len(c.locals) - 1, tryDepth: c.tryDepth}
	c.loops = append(c.loops, loop)
	c.compileStatement(s.Body)
	c.loops = c.loops[:len(c.loops)-1]

	c.endScope(s.Line) // pops the per-iteration value
	c.emitLoop(loopStart, s.Line)

	c.patchJump(exitJump)
	c.emit(bytecode.OpPop, s.Line) // drop the null OpForNext left on exhaustion
	for _, b := range loop.breakJumps {
		c.patchJump(b)
	}
	c.endScope(s.Line)
}

func (c *Compiler) compileBreak(line int) {
	if len(c.loops) == 0 {
		c.errorf("break outside of a loop")
		return
	}
	loop := c.loops[len(c.loops)-1]
	if c.tryDepth > loop.tryDepth {
		c.errorf("break out of a try block is not allowed")
		return
	}
	n := len(c.locals) - loop.localBase
	if n > 0 {
		c.emit(bytecode.OpPopN, line)
		c.emitByte(byte(n), line)
	}
	j := c.emitJump(bytecode.OpJump, line)
	loop.breakJumps = append(loop.breakJumps, j)
}

func (c *Compiler) compileContinue(line int) {
	if len(c.loops) == 0 {
		c.errorf("continue outside of a loop")
		return
	}
	loop := c.loops[len(c.loops)-1]
	if c.tryDepth > loop.tryDepth {
		c.errorf("continue out of a try block is not allowed")
		return
	}
	n := len(c.locals) - loop.localBase
	if n > 0 {
		c.emit(bytecode.OpPopN, line)
		c.emitByte(byte(n), line)
	}
	c.emitLoop(loop.continueTarget, line)
}

// compileTry compiles try/except/ensure as a single except dispatcher
// (one SETUP_EXCEPT handler record covering every except clause, which
// checks each clause's class in turn with __isa__) plus an ensure
// handler that is also inlined on the normal-completion path, since
// ensure must run whether or not an exception occurred.
func (c *Compiler) compileTry(s *ast.TryStmt) {
	if c.tryDepth >= maxTryDepth {
		c.errorf("try-handler nesting exceeds the limit of %d", maxTryDepth)
		return
	}
	c.tryDepth++
	defer func() { c.tryDepth-- }()

	hasExcept := len(s.Excepts) > 0
	hasEnsure := s.Ensure != nil

	var ensureSetup, exceptSetup int
	if hasEnsure {
		ensureSetup = c.emitJump(bytecode.OpSetupEnsure, s.Line)
	}
	if hasExcept {
		exceptSetup = c.emitJump(bytecode.OpSetupExcept, s.Line)
	}

	c.compileStatement(s.Body)

	if hasExcept {
		c.emit(bytecode.OpPopHandler, s.Line)
	}
	if hasEnsure {
		c.emit(bytecode.OpPopHandler, s.Line)
		c.compileStatement(s.Ensure)
	}
	var doneJumps []int
	doneJumps = append(doneJumps, c.emitJump(bytecode.OpJump, s.Line))

	if hasExcept {
		c.patchJump(exceptSetup)
		for _, ex := range s.Excepts {
			isCatchAll := ex.ClassName == ""
			var noMatch int
			if !isCatchAll {
				c.emit(bytecode.OpDup, s.Line)
				c.compileIdentifierRef(ex.ClassName, s.Line)
				c.emitInvoke("__isa__", 1, s.Line)
				noMatch = c.emitJump(bytecode.OpJumpF, s.Line)
			}
			c.beginScope()
			if ex.Binding != "" {
				c.declareLocal(ex.Binding)
			} else {
				c.emit(bytecode.OpPop, s.Line)
			}
			c.compileStatement(ex.Body)
			c.endScope(s.Line)
			if hasEnsure {
				c.emit(bytecode.OpPopHandler, s.Line)
				c.compileStatement(s.Ensure)
			}
			doneJumps = append(doneJumps, c.emitJump(bytecode.OpJump, s.Line))
			if !isCatchAll {
				c.patchJump(noMatch)
			}
		}
		// Nothing matched: re-raise so the ensure unwind path (or an
		// outer handler) sees it.
		c.emit(bytecode.OpRaise, s.Line)
	}

	if hasEnsure {
		c.patchJump(ensureSetup)
		c.compileStatement(s.Ensure)
		c.emit(bytecode.OpRaise, s.Line)
	}

	for _, j := range doneJumps {
		c.patchJump(j)
	}
}

// compileWith desugars `with resource as name do body end` into a
// try/ensure pair that calls `__exit__` on the resource unconditionally.
func (c *Compiler) compileWith(s *ast.WithStmt) {
	c.beginScope()
	c.compileExpression(s.Resource)
	slot := c.declareLocal("$with")
	if s.Binding != "" {
		c.emit(bytecode.OpGetLocal, s.Line)
		c.emitByte(byte(slot), s.Line)
		c.declareLocal(s.Binding)
	}

	ensureSetup := c.emitJump(bytecode.OpSetupEnsure, s.Line)
	c.compileStatement(s.Body)
	c.emit(bytecode.OpPopHandler, s.Line)
	c.emit(bytecode.OpGetLocal, s.Line)
	c.emitByte(byte(slot), s.Line)
	c.emitInvoke("__exit__", 0, s.Line)
	c.emit(bytecode.OpPop, s.Line)
	skip := c.emitJump(bytecode.OpJump, s.Line)

	c.patchJump(ensureSetup)
	c.emit(bytecode.OpGetLocal, s.Line)
	c.emitByte(byte(slot), s.Line)
	c.emitInvoke("__exit__", 0, s.Line)
	c.emit(bytecode.OpPop, s.Line)
	c.emit(bytecode.OpRaise, s.Line)

	c.patchJump(skip)
	c.endScope(s.Line)
}

func (c *Compiler) compileImport(s *ast.ImportStmt) {
	switch {
	case len(s.Names) > 0:
		modConst := c.internConst(s.Module)
		c.emit(bytecode.OpImportFrom, s.Line)
		c.emitU16(modConst, s.Line)
		for _, n := range s.Names {
			c.emit(bytecode.OpImportName, s.Line)
			c.emitU16(modConst, s.Line)
			c.emitU16(c.internConst(n), s.Line)
			c.declareBinding(n, s.Line)
		}
	case s.Alias != "":
		modConst := c.internConst(s.Module)
		aliasConst := c.internConst(s.Alias)
		c.emit(bytecode.OpImportAs, s.Line)
		c.emitU16(modConst, s.Line)
		c.emitU16(aliasConst, s.Line)
		c.declareBinding(s.Alias, s.Line)
	default:
		modConst := c.internConst(s.Module)
		c.emit(bytecode.OpImport, s.Line)
		c.emitU16(modConst, s.Line)
		c.declareBinding(s.Module, s.Line)
	}
}

// ---- expressions ----

func (c *Compiler) compileExpression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.NumberLit:
		c.emit(bytecode.OpGetConst, e.Line)
		c.emitU16(c.addConstant(object.Num(e.Value)), e.Line)
	case *ast.StringLit:
		c.emit(bytecode.OpGetConst, e.Line)
		c.emitU16(c.internConst(e.Value), e.Line)
	case *ast.BoolLit:
		if e.Value {
			c.emit(bytecode.OpTrue, e.Line)
		} else {
			c.emit(bytecode.OpFalse, e.Line)
		}
	case *ast.NullLit:
		c.emit(bytecode.OpNull, e.Line)
	case *ast.Identifier:
		c.compileIdentifierRef(e.Name, e.Line)
	case *ast.ThisExpr:
		c.emitThisRef(e.Line)
	case *ast.SuperExpr:
		c.errorf("'super' may only be used as a method receiver or call")
	case *ast.ListLit:
		c.emit(bytecode.OpNewList, e.Line)
		for _, el := range e.Elements {
			c.compileExpression(el)
			c.emit(bytecode.OpAppendList, e.Line)
		}
	case *ast.TupleLit:
		for _, el := range e.Elements {
			c.compileExpression(el)
		}
		c.emit(bytecode.OpNewTuple, e.Line)
		c.emitByte(byte(len(e.Elements)), e.Line)
	case *ast.TableLit:
		c.emit(bytecode.OpNewTable, e.Line)
		for _, ent := range e.Entries {
			c.emit(bytecode.OpDup, e.Line)
			c.compileExpression(ent.Key)
			c.compileExpression(ent.Value)
			c.emit(bytecode.OpSubscrSet, e.Line)
			c.emit(bytecode.OpPop, e.Line)
		}
	case *ast.UnaryExpr:
		c.compileExpression(e.Operand)
		switch e.Op {
		case ast.UnaryNeg:
			c.emit(bytecode.OpNeg, e.Line)
		case ast.UnaryNot:
			c.emit(bytecode.OpNot, e.Line)
		case ast.UnaryLen:
			c.emitInvoke("__len__", 0, e.Line)
		case ast.UnaryHash:
			c.emitInvoke("__hash__", 0, e.Line)
		}
	case *ast.BinaryExpr:
		c.compileBinary(e)
	case *ast.AssignExpr:
		c.compileAssign(e)
	case *ast.CompoundAssignExpr:
		c.compileCompoundAssign(e)
	case *ast.UnpackAssignExpr:
		c.compileUnpackAssign(e)
	case *ast.FieldAccess:
		if _, ok := e.Receiver.(*ast.SuperExpr); ok {
			c.emitSuperRef(e.Name, e.Line)
			return
		}
		c.compileExpression(e.Receiver)
		sym := c.addSymbol(e.Name, object.SymField)
		c.emit(bytecode.OpGetField, e.Line)
		c.emitU16(sym, e.Line)
	case *ast.SubscriptExpr:
		c.compileExpression(e.Receiver)
		c.compileExpression(e.Index)
		c.emit(bytecode.OpSubscrGet, e.Line)
	case *ast.CallExpr:
		c.compileExpression(e.Callee)
		for _, a := range e.Args {
			c.compileExpression(a)
		}
		if e.Spread {
			c.emit(bytecode.OpCallUnpack, e.Line)
		} else {
			c.emit(bytecode.OpCall, e.Line)
		}
		c.emitByte(byte(len(e.Args)), e.Line)
	case *ast.InvokeExpr:
		c.compileExpression(e.Receiver)
		for _, a := range e.Args {
			c.compileExpression(a)
		}
		sym := c.addSymbol(e.Name, object.SymMethod)
		if e.Spread {
			c.emit(bytecode.OpInvokeUnpack, e.Line)
		} else {
			c.emit(bytecode.OpInvoke, e.Line)
		}
		c.emitByte(byte(len(e.Args)), e.Line)
		c.emitU16(sym, e.Line)
	case *ast.SuperCallExpr:
		c.emitThisRef(e.Line)
		for _, a := range e.Args {
			c.compileExpression(a)
		}
		sym := c.addSymbol(e.Name, object.SymMethod)
		if e.Spread {
			c.emit(bytecode.OpSuperUnpack, e.Line)
		} else {
			c.emit(bytecode.OpSuper, e.Line)
		}
		c.emitByte(byte(len(e.Args)), e.Line)
		c.emitU16(sym, e.Line)
	case *ast.FunctionLit:
		c.compileFunctionLit(e, "", false)
	default:
		c.errorf("unknown expression type %T", expr)
	}
}

func (c *Compiler) emitThisRef(line int) {
	if idx := c.resolveLocal("this"); idx != -1 {
		c.emit(bytecode.OpGetLocal, line)
		c.emitByte(byte(idx), line)
		return
	}
	if idx := c.resolveUpvalue("this"); idx != -1 {
		c.emit(bytecode.OpGetUpvalue, line)
		c.emitByte(byte(idx), line)
		return
	}
	c.errorf("'this'/'super' used outside a method body")
}

func (c *Compiler) emitSuperRef(name string, line int) {
	c.emitThisRef(line)
	sym := c.addSymbol(name, object.SymBoundMethod)
	c.emit(bytecode.OpSuperBind, line)
	c.emitU16(sym, line)
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) {
	switch e.Op {
	case ast.BinAnd:
		c.compileExpression(e.Left)
		c.emit(bytecode.OpDup, e.Line)
		endJump := c.emitJump(bytecode.OpJumpF, e.Line) // pops dup; leaves Left as result if falsy
		c.emit(bytecode.OpPop, e.Line)
		c.compileExpression(e.Right)
		c.patchJump(endJump)
	case ast.BinOr:
		c.compileExpression(e.Left)
		c.emit(bytecode.OpDup, e.Line)
		endJump := c.emitJump(bytecode.OpJumpT, e.Line) // pops dup; leaves Left as result if truthy
		c.emit(bytecode.OpPop, e.Line)
		c.compileExpression(e.Right)
		c.patchJump(endJump)
	default:
		c.compileExpression(e.Left)
		c.compileExpression(e.Right)
		c.emitBinaryOp(e.Op, e.Line)
	}
}

func (c *Compiler) compileAssign(a *ast.AssignExpr) {
	switch t := a.Target.(type) {
	case *ast.Identifier:
		c.compileExpression(a.Value)
		c.emitIdentifierSet(t.Name, a.Line)
	case *ast.FieldAccess:
		c.compileExpression(t.Receiver)
		c.compileExpression(a.Value)
		sym := c.addSymbol(t.Name, object.SymField)
		c.emit(bytecode.OpSetField, a.Line)
		c.emitU16(sym, a.Line)
	case *ast.SubscriptExpr:
		c.compileExpression(t.Receiver)
		c.compileExpression(t.Index)
		c.compileExpression(a.Value)
		c.emit(bytecode.OpSubscrSet, a.Line)
	default:
		c.errorf("invalid assignment target %T", a.Target)
	}
}

// compileCompoundAssign evaluates the target's receiver (and, for a
// subscript target, its index) exactly once, important when either is
// a side-effecting expression rather than a bare name.
func (c *Compiler) compileCompoundAssign(ca *ast.CompoundAssignExpr) {
	switch t := ca.Target.(type) {
	case *ast.Identifier:
		c.compileIdentifierRef(t.Name, ca.Line)
		c.compileExpression(ca.Value)
		c.emitBinaryOp(ca.Op, ca.Line)
		c.emitIdentifierSet(t.Name, ca.Line)
	case *ast.FieldAccess:
		c.compileExpression(t.Receiver)
		c.emit(bytecode.OpDup, ca.Line)
		sym := c.addSymbol(t.Name, object.SymField)
		c.emit(bytecode.OpGetField, ca.Line)
		c.emitU16(sym, ca.Line)
		c.compileExpression(ca.Value)
		c.emitBinaryOp(ca.Op, ca.Line)
		c.emit(bytecode.OpSetField, ca.Line)
		c.emitU16(sym, ca.Line)
	case *ast.SubscriptExpr:
		c.beginScope()
		c.compileExpression(t.Receiver)
		recvSlot := c.declareLocal("$recv")
		c.compileExpression(t.Index)
		idxSlot := c.declareLocal("$idx")
		c.emit(bytecode.OpGetLocal, ca.Line)
		c.emitByte(byte(recvSlot), ca.Line)
		c.emit(bytecode.OpGetLocal, ca.Line)
		c.emitByte(byte(idxSlot), ca.Line)
		c.emit(bytecode.OpSubscrGet, ca.Line)
		c.compileExpression(ca.Value)
		c.emitBinaryOp(ca.Op, ca.Line)
		c.emit(bytecode.OpSubscrSet, ca.Line)
		// OpSubscrSet's own pops already removed $recv/$idx from the
		// stack, so the scope's locals are gone without needing OpPopN.
		c.discardScope()
	default:
		c.errorf("invalid compound assignment target %T", ca.Target)
	}
}

// compileUnpackAssign compiles `(a, b, *rest) = expr`. A trailing Rest
// target collects everything OpUnpack doesn't claim via a `slice` call
// on the original iterable rather than a dedicated opcode. Without a
// Rest target, a tuple or list literal with exactly one element per
// target is compiled element by element, with no container or OpUnpack.
func (c *Compiler) compileUnpackAssign(u *ast.UnpackAssignExpr) {
	hasRest := len(u.Targets) > 0 && u.Targets[len(u.Targets)-1].Rest
	if !hasRest {
		var lit []ast.Expression
		switch v := u.Value.(type) {
		case *ast.TupleLit:
			lit = v.Elements
		case *ast.ListLit:
			lit = v.Elements
		}
		if lit != nil && len(lit) == len(u.Targets) {
			for _, el := range lit {
				c.compileExpression(el)
			}
		} else {
			c.compileExpression(u.Value)
			c.emit(bytecode.OpUnpack, u.Line)
			c.emitByte(byte(len(u.Targets)), u.Line)
		}
		for i := len(u.Targets) - 1; i >= 0; i-- {
			c.emitIdentifierSet(u.Targets[i].Name, u.Line)
			c.emit(bytecode.OpPop, u.Line)
		}
		c.emit(bytecode.OpNull, u.Line)
		return
	}

	fixed := u.Targets[:len(u.Targets)-1]
	c.compileExpression(u.Value)
	c.emit(bytecode.OpDup, u.Line)
	c.emit(bytecode.OpUnpack, u.Line)
	c.emitByte(byte(len(fixed)), u.Line)
	for i := len(fixed) - 1; i >= 0; i-- {
		c.emitIdentifierSet(fixed[i].Name, u.Line)
		c.emit(bytecode.OpPop, u.Line)
	}
	c.emit(bytecode.OpGetConst, u.Line)
	c.emitU16(c.addConstant(object.Num(float64(len(fixed)))), u.Line)
	c.emitInvoke("slice", 1, u.Line)
	c.emitIdentifierSet(u.Targets[len(u.Targets)-1].Name, u.Line)
	c.emit(bytecode.OpPop, u.Line)
	c.emit(bytecode.OpNull, u.Line)
}
