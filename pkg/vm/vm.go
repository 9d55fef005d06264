// Package vm implements the stack-based bytecode interpreter: the final
// stage of the pipeline
//
//	source -> lexer -> parser -> AST -> compiler -> bytecode -> vm -> result
//
// Execution model: a single flat operand stack shared by every call
// frame (clox-style), with each frame's locals living at a
// basePointer-relative window into that same stack. OpCall/OpInvoke/
// OpSuper never recurse the Go call stack; they push a frame and the
// interpreter loop keeps going. Go-level recursion happens only when a
// native needs to invoke a smog callable synchronously and block for the
// result (sort comparators, the for-each/subscript protocol methods,
// embedder callbacks): that path re-enters run() with a fresh floor and
// returns once the frames it pushed unwind back down to it.
//
// Exceptions share the handler-stack contract documented in
// pkg/compiler: raising walks vm.handlers from the top, discards every
// frame above the one that installed the innermost matching handler,
// resets the operand stack to the depth recorded at setup time, and
// resumes at the recorded target with the exception value on top of the
// stack. A handler never reaches across a nested run() floor — an
// exception uncaught within a synchronous callback surfaces as a Go
// error instead, so the native that triggered the callback decides
// whether and how to keep the failure flowing.
package vm

import (
	"fmt"
	"math"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/object"
)

// stackSize is fixed, not grown, because object.Upvalue holds a raw
// *Value into this array: a reallocating append would invalidate every
// open upvalue's pointer. Overflowing it is a runtime error, not a panic.
const stackSize = 1 << 16

// frame is one call's activation record.
type frame struct {
	closure     *object.Closure
	ip          int
	basePointer int              // vm.stack[basePointer] is local slot 0
	resultSlot  int              // OpReturn's value replaces the call's whole stack window here
	ctorOf      *object.Instance // non-nil: this frame is a constructor body; OpReturn discards its value and substitutes this instance
}

// handlerEntry is one live OpSetupExcept/OpSetupEnsure record.
type handlerEntry struct {
	frameDepth int // index into vm.frames this handler was installed under
	target     int // absolute instruction offset to resume at
	stackDepth int // vm.sp to restore before pushing the exception value
	isEnsure   bool
}

// ModuleLoader resolves an import's module name to a compiled Module. The
// VM has no opinion on where module source comes from; cmd/smog supplies
// a filesystem-backed implementation.
type ModuleLoader interface {
	Load(name string) (*object.Module, error)
}

// VM owns the operand stack, the call-frame stack, the live exception
// handlers, the open-upvalue chain, and the heap/module it executes
// against.
type VM struct {
	heap   *object.Heap
	module *object.Module

	stack []object.Value
	sp    int

	frames   []frame
	handlers []handlerEntry

	// runFloors tracks the frame-stack floor of every live run()
	// invocation, outermost first. A raise only consumes handlers
	// installed at or above the innermost (top) floor; one below it
	// belongs to an enclosing, already-suspended run() and is left alone.
	runFloors  []int
	pendingErr error

	openUpvalues *object.Upvalue // chained by descending StackSlot

	coreClasses map[string]*object.Class
	modules     map[string]*object.Module

	loader ModuleLoader
}

// New creates a VM bound to a heap and the module whose Main function
// Run executes. Core classes should be registered (RegisterCoreClass)
// before Run if the program uses any corelib-provided type; lookups
// against an unregistered name degrade to a plain interned-string
// exception value rather than panicking, so a VM built without corelib
// wired in (as in a unit test exercising raw opcodes) still runs.
func New(heap *object.Heap, module *object.Module) *VM {
	return &VM{
		heap:        heap,
		module:      module,
		stack:       make([]object.Value, stackSize),
		frames:      make([]frame, 0, 256),
		coreClasses: make(map[string]*object.Class),
		modules:     map[string]*object.Module{module.Name.Go(): module},
	}
}

// SetLoader installs the module loader used for import statements.
func (vm *VM) SetLoader(l ModuleLoader) { vm.loader = l }

// RegisterCoreClass makes a corelib-bootstrapped class available to the
// VM's own built-in dispatch (classForValue, construction, exceptions).
func (vm *VM) RegisterCoreClass(name string, c *object.Class) {
	vm.coreClasses[name] = c
}

// CoreClass implements object.NativeContext.
func (vm *VM) CoreClass(name string) *object.Class { return vm.coreClasses[name] }

// Intern implements object.NativeContext.
func (vm *VM) Intern(s string) *object.String { return vm.heap.Intern(s) }

// NewInstance implements object.NativeContext.
func (vm *VM) NewInstance(class *object.Class) *object.Instance {
	inst := object.NewInstance(class)
	vm.heap.Track(inst, 32+16*len(class.FieldNames))
	return inst
}

// Raise implements object.NativeContext: builds an instance of class
// carrying "_err" and "_stacktrace" fields and drives it through the
// same unwind path OpRaise uses.
func (vm *VM) Raise(class *object.Class, format string, a ...any) bool {
	inst := vm.NewInstance(class)
	inst.Fields["_err"] = object.FromObj(vm.heap.Intern(fmt.Sprintf(format, a...)))
	inst.Fields["_stacktrace"] = object.FromObj(vm.buildStackTrace())
	vm.raiseValue(object.FromObj(inst))
	return false
}

// Call implements object.NativeContext: invokes a callable synchronously
// from native Go code and blocks for its result.
func (vm *VM) Call(callee object.Value, args []object.Value) (object.Value, bool) {
	v, err := vm.callValue(callee, args)
	if err != nil {
		vm.reraise(err)
		return object.Null, false
	}
	return v, true
}

// Run executes the module's top-level function to completion and
// returns the value that function returns (Null, since the compiler
// ends every module with an implicit `return null`).
func (vm *VM) Run() (object.Value, error) {
	mainClosure := object.NewClosure(vm.module.Main)
	vm.heap.Track(mainClosure, 32)
	vm.frames = append(vm.frames, frame{closure: mainClosure, basePointer: 0, resultSlot: 0})
	return vm.run(0)
}

// ---- stack primitives ----

func (vm *VM) push(v object.Value) {
	if vm.sp >= len(vm.stack) {
		cls := vm.coreClasses["StackOverflowException"]
		if cls == nil {
			vm.raiseRuntimef("stack overflow")
			return
		}
		vm.Raise(cls, "stack overflow")
		return
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() object.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distFromTop int) object.Value { return vm.stack[vm.sp-1-distFromTop] }

func (vm *VM) curFrame() *frame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) constName(idx int) string {
	return vm.curFrame().closure.Fn.Code.Constants[idx].AsObject().(*object.String).Go()
}

// ---- byte/operand fetch ----

func (vm *VM) readByte() byte {
	f := vm.curFrame()
	b := f.closure.Fn.Code.Instructions[f.ip]
	f.ip++
	return b
}

func (vm *VM) readU16() uint16 {
	f := vm.curFrame()
	v := bytecode.U16(f.closure.Fn.Code.Instructions, f.ip)
	f.ip += 2
	return v
}

func (vm *VM) readI16() int16 {
	f := vm.curFrame()
	v := bytecode.I16(f.closure.Fn.Code.Instructions, f.ip)
	f.ip += 2
	return v
}

// ---- exception plumbing ----

// raiseValue drives a raised value through the handler stack belonging
// to the innermost live run() floor. If a handler matches, execution
// state is rewound to its target and raiseValue returns with nothing
// left for the caller to do. Otherwise the floor's own frames are
// discarded and the failure is stashed in pendingErr for the caller to
// retrieve via checkRaised.
func (vm *VM) raiseValue(excVal object.Value) {
	floor := vm.runFloors[len(vm.runFloors)-1]
	for len(vm.handlers) > 0 {
		h := vm.handlers[len(vm.handlers)-1]
		if h.frameDepth < floor {
			break
		}
		vm.handlers = vm.handlers[:len(vm.handlers)-1]
		vm.closeUpvalues(vm.frames[h.frameDepth].basePointer)
		vm.frames = vm.frames[:h.frameDepth+1]
		vm.sp = h.stackDepth
		vm.push(excVal)
		vm.curFrame().ip = h.target
		return
	}
	vm.frames = vm.frames[:floor]
	vm.pendingErr = newSmogError(excVal)
}

func (vm *VM) makeRuntimeError(format string, a ...any) object.Value {
	msg := fmt.Sprintf(format, a...)
	cls := vm.coreClasses["RuntimeError"]
	if cls == nil {
		return object.FromObj(vm.heap.Intern(msg))
	}
	inst := vm.NewInstance(cls)
	inst.Fields["_err"] = object.FromObj(vm.heap.Intern(msg))
	inst.Fields["_stacktrace"] = object.FromObj(vm.buildStackTrace())
	return object.FromObj(inst)
}

func (vm *VM) raiseRuntimef(format string, a ...any) {
	vm.raiseValue(vm.makeRuntimeError(format, a...))
}

// checkRaised drains a pending uncaught failure, if any.
func (vm *VM) checkRaised() (object.Value, error, bool) {
	if vm.pendingErr != nil {
		err := vm.pendingErr
		vm.pendingErr = nil
		return object.Null, err, true
	}
	return object.Value{}, nil, false
}

// reraise folds a Go error returned by a synchronous nested invocation
// (invokeSync, callValue) back into this run floor's own handler chain,
// so a try/except around the call site that triggered it still works.
func (vm *VM) reraise(err error) (object.Value, error, bool) {
	if err == nil {
		return object.Value{}, nil, false
	}
	if se, ok := err.(*smogError); ok {
		vm.raiseValue(se.Value)
	} else {
		vm.raiseRuntimef("%v", err)
	}
	return vm.checkRaised()
}

// ---- upvalues ----

func (vm *VM) captureUpvalue(slot int) *object.Upvalue {
	var prev *object.Upvalue
	cur := vm.openUpvalues
	for cur != nil && cur.StackSlot > slot {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.StackSlot == slot {
		return cur
	}
	created := object.NewOpenUpvalue(&vm.stack[slot], slot)
	vm.heap.Track(created, 24)
	created.Next = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

func (vm *VM) closeUpvalues(fromSlot int) {
	for vm.openUpvalues != nil && vm.openUpvalues.StackSlot >= fromSlot {
		vm.openUpvalues.Close()
		vm.openUpvalues = vm.openUpvalues.Next
	}
}

// ---- calling convention ----

func fnLabel(fn *object.Function) string {
	if fn.Name != nil {
		return fn.Name.Go() + "()"
	}
	return "function"
}

// bindArgs maps call-site arguments onto a function's declared parameter
// list: missing trailing params are filled from Defaults, and (if
// Vararg) args beyond the fixed count collect into a trailing Tuple.
func (vm *VM) bindArgs(fn *object.Function, args []object.Value) ([]object.Value, bool) {
	fixed := fn.Arity
	if fn.Vararg {
		fixed--
	}
	firstDefault := fixed - len(fn.Defaults)
	if len(args) < firstDefault {
		vm.raiseRuntimef("%s expects at least %d arguments, got %d", fnLabel(fn), firstDefault, len(args))
		return nil, false
	}
	if !fn.Vararg && len(args) > fn.Arity {
		vm.raiseRuntimef("%s expects at most %d arguments, got %d", fnLabel(fn), fn.Arity, len(args))
		return nil, false
	}
	out := make([]object.Value, 0, fn.Arity)
	for i := 0; i < fixed; i++ {
		if i < len(args) {
			out = append(out, args[i])
		} else {
			out = append(out, fn.Defaults[i-firstDefault])
		}
	}
	if !fn.Vararg {
		return out, true
	}
	rest := append([]object.Value{}, args[fixed:]...)
	t := object.NewTuple(rest)
	vm.heap.Track(t, 32+8*len(rest))
	return append(out, object.FromObj(t)), true
}

// invokeClosure installs a new frame for an interpreted call without
// touching the Go call stack: calleeSlot is where the callee/receiver
// value already sits on the operand stack, with argc raw arguments
// above it. The window collapses back to one value when OpReturn fires.
func (vm *VM) invokeClosure(cl *object.Closure, receiver object.Value, hasReceiver bool, rawArgs []object.Value, calleeSlot int, ctorOf *object.Instance) bool {
	bound, ok := vm.bindArgs(cl.Fn, rawArgs)
	if !ok {
		return false
	}
	basePointer := calleeSlot
	if hasReceiver {
		vm.stack[calleeSlot] = receiver
		vm.sp = calleeSlot + 1
	} else {
		vm.sp = calleeSlot
	}
	for _, a := range bound {
		vm.push(a)
	}
	vm.frames = append(vm.frames, frame{closure: cl, basePointer: basePointer, resultSlot: calleeSlot, ctorOf: ctorOf})
	return true
}

func (vm *VM) invokeNative(n *object.Native, receiver object.Value, rawArgs []object.Value, calleeSlot int) bool {
	args := make([]object.Value, 0, len(rawArgs)+1)
	args = append(args, receiver)
	args = append(args, rawArgs...)
	v, ok := n.Fn(vm, args)
	if !ok {
		return false
	}
	vm.stack[calleeSlot] = v
	vm.sp = calleeSlot + 1
	return true
}

// dispatchCall handles a plain OpCall: the callee value itself (not a
// method name) sits at calleeSlot. A *Class callee constructs a new
// instance and runs its same-named constructor, if any.
func (vm *VM) dispatchCall(calleeSlot int, callee object.Value, rawArgs []object.Value) bool {
	if !callee.IsObject() {
		vm.raiseRuntimef("value is not callable")
		return false
	}
	switch c := callee.AsObject().(type) {
	case *object.Closure:
		return vm.invokeClosure(c, object.Value{}, false, rawArgs, calleeSlot, nil)
	case *object.Native:
		return vm.invokeNative(c, object.Value{}, rawArgs, calleeSlot)
	case *object.BoundMethod:
		switch m := c.Method.AsObject().(type) {
		case *object.Closure:
			return vm.invokeClosure(m, c.Receiver, true, rawArgs, calleeSlot, nil)
		case *object.Native:
			return vm.invokeNative(m, c.Receiver, rawArgs, calleeSlot)
		}
		vm.raiseRuntimef("bound method is not callable")
		return false
	case *object.Class:
		inst := vm.NewInstance(c)
		ctorVal, _, ok := c.LookupMethod(c.Name.Go())
		if !ok {
			vm.stack[calleeSlot] = object.FromObj(inst)
			vm.sp = calleeSlot + 1
			return true
		}
		switch m := ctorVal.AsObject().(type) {
		case *object.Closure:
			return vm.invokeClosure(m, object.FromObj(inst), true, rawArgs, calleeSlot, inst)
		case *object.Native:
			ok2 := vm.invokeNative(m, object.FromObj(inst), rawArgs, calleeSlot)
			if ok2 {
				vm.stack[calleeSlot] = object.FromObj(inst)
			}
			return ok2
		}
		vm.raiseRuntimef("constructor is not callable")
		return false
	default:
		vm.raiseRuntimef("value is not callable")
		return false
	}
}

// doInvoke handles OpInvoke: the receiver sits at calleeSlot and the
// method is resolved by name against its class. The inline cache on the
// symbol memoizes the class -> method resolution (an invoke callsite
// that's monomorphic in practice, e.g. a loop calling the same method on
// same-shaped receivers, skips the superclass-chain walk after the
// first hit).
func (vm *VM) doInvoke(argc int, symIdx uint16, unpack bool) bool {
	f := vm.curFrame()
	sym := &f.closure.Fn.Code.Symbols[symIdx]
	calleeSlot := vm.sp - argc - 1
	recv := vm.stack[calleeSlot]
	rawArgs := append([]object.Value(nil), vm.stack[calleeSlot+1:vm.sp]...)
	if unpack {
		var ok bool
		rawArgs, ok = vm.spread(rawArgs)
		if !ok {
			return false
		}
	}
	if recv.IsObject() {
		if c, ok := recv.AsObject().(*object.Class); ok {
			if sm, _, ok := c.LookupStaticMethod(vm.constName(sym.NameConst)); ok {
				switch m := sm.AsObject().(type) {
				case *object.Closure:
					return vm.invokeClosure(m, recv, m.Fn.IsMethod, rawArgs, calleeSlot, nil)
				case *object.Native:
					return vm.invokeNative(m, recv, rawArgs, calleeSlot)
				}
			}
		}
	}
	cls := vm.classForValue(recv)
	if cls == nil {
		vm.raiseRuntimef("value has no methods")
		return false
	}
	var method object.Value
	if sym.Cached() && sym.Key == cls {
		method = sym.Method
	} else {
		m, _, ok := cls.LookupMethod(vm.constName(sym.NameConst))
		if !ok {
			vm.raiseRuntimef("%s has no method '%s'", cls.Name.Go(), vm.constName(sym.NameConst))
			return false
		}
		sym.Key = cls
		sym.Method = m
		method = m
	}
	switch m := method.AsObject().(type) {
	case *object.Closure:
		return vm.invokeClosure(m, recv, m.Fn.IsMethod, rawArgs, calleeSlot, nil)
	case *object.Native:
		return vm.invokeNative(m, recv, rawArgs, calleeSlot)
	}
	vm.raiseRuntimef("method is not callable")
	return false
}

// doSuperCall handles OpSuper: like doInvoke, but resolution starts one
// class above the method's HomeClass rather than the receiver's own
// (possibly more derived) runtime class.
func (vm *VM) doSuperCall(argc int, symIdx uint16, unpack bool) bool {
	f := vm.curFrame()
	home := f.closure.Fn.HomeClass
	calleeSlot := vm.sp - argc - 1
	recv := vm.stack[calleeSlot]
	rawArgs := append([]object.Value(nil), vm.stack[calleeSlot+1:vm.sp]...)
	if unpack {
		var ok bool
		rawArgs, ok = vm.spread(rawArgs)
		if !ok {
			return false
		}
	}
	if home == nil || home.Super == nil {
		vm.raiseRuntimef("'super' used outside a subclass method")
		return false
	}
	name := vm.constName(int(f.closure.Fn.Code.Symbols[symIdx].NameConst))
	method, _, ok := home.Super.LookupMethod(name)
	if !ok {
		vm.raiseRuntimef("no superclass method '%s'", name)
		return false
	}
	switch m := method.AsObject().(type) {
	case *object.Closure:
		return vm.invokeClosure(m, recv, m.Fn.IsMethod, rawArgs, calleeSlot, nil)
	case *object.Native:
		return vm.invokeNative(m, recv, rawArgs, calleeSlot)
	}
	vm.raiseRuntimef("superclass member '%s' is not callable", name)
	return false
}

// callValue is the synchronous (Go-recursive) call path used by Call and
// invokeSync: it re-enters the interpreter loop at a fresh floor and
// blocks until the pushed frame(s) return.
func (vm *VM) callValue(callee object.Value, args []object.Value) (object.Value, error) {
	if !callee.IsObject() {
		return object.Null, fmt.Errorf("value is not callable")
	}
	switch c := callee.AsObject().(type) {
	case *object.Closure:
		return vm.callClosure(c, object.Value{}, c.Fn.IsMethod, args)
	case *object.Native:
		v, ok := c.Fn(vm, append([]object.Value{object.Null}, args...))
		if !ok {
			v2, err, _ := vm.checkRaised()
			return v2, err
		}
		return v, nil
	case *object.BoundMethod:
		switch m := c.Method.AsObject().(type) {
		case *object.Closure:
			return vm.callClosure(m, c.Receiver, true, args)
		case *object.Native:
			v, ok := m.Fn(vm, append([]object.Value{c.Receiver}, args...))
			if !ok {
				v2, err, _ := vm.checkRaised()
				return v2, err
			}
			return v, nil
		}
	}
	return object.Null, fmt.Errorf("value is not callable")
}

func (vm *VM) callClosure(cl *object.Closure, receiver object.Value, hasReceiver bool, args []object.Value) (object.Value, error) {
	bound, ok := vm.bindArgs(cl.Fn, args)
	if !ok {
		v, err, _ := vm.checkRaised()
		return v, err
	}
	floor := len(vm.frames)
	resultSlot := vm.sp
	basePointer := resultSlot
	if hasReceiver {
		vm.push(receiver)
	}
	for _, a := range bound {
		vm.push(a)
	}
	vm.frames = append(vm.frames, frame{closure: cl, basePointer: basePointer, resultSlot: resultSlot})
	return vm.run(floor)
}

// invokeSync resolves and calls a method by name synchronously, used for
// the dunder protocols (__iter__, __next__, __get__, __set__, __eq__)
// whose call site has to inspect the result in the same instruction
// (OpForNext's null check, OpSubscrGet's push) rather than merely
// letting the next instruction observe it the way OpInvoke's callers do.
func (vm *VM) invokeSync(name string, recv object.Value, args []object.Value) (object.Value, error) {
	cls := vm.classForValue(recv)
	if cls == nil {
		return object.Null, fmt.Errorf("value has no methods")
	}
	methodVal, _, ok := cls.LookupMethod(name)
	if !ok {
		return object.Null, fmt.Errorf("%s has no method %s", cls.Name.Go(), name)
	}
	switch m := methodVal.AsObject().(type) {
	case *object.Native:
		v, ok := m.Fn(vm, append([]object.Value{recv}, args...))
		if !ok {
			v2, err, _ := vm.checkRaised()
			return v2, err
		}
		return v, nil
	case *object.Closure:
		return vm.callClosure(m, recv, m.Fn.IsMethod, args)
	}
	return object.Null, fmt.Errorf("%s.%s is not callable", cls.Name.Go(), name)
}

// classForValue resolves the method-lookup class for any value: core
// classes for primitives and VM-native collection types, the object's
// own class pointer for user instances.
func (vm *VM) classForValue(v object.Value) *object.Class {
	switch v.Kind() {
	case object.KindNumber:
		return vm.coreClasses["Number"]
	case object.KindBool:
		return vm.coreClasses["Boolean"]
	case object.KindNull:
		return vm.coreClasses["Null"]
	case object.KindObject:
		switch o := v.AsObject().(type) {
		case *object.Instance:
			return o.Class()
		case *object.String:
			return vm.coreClasses["String"]
		case *object.List:
			return vm.coreClasses["List"]
		case *object.Tuple:
			return vm.coreClasses["Tuple"]
		case *object.Table:
			return vm.coreClasses["Table"]
		case *object.Class:
			return vm.coreClasses["Class"]
		}
	}
	return nil
}

// ---- fields ----

func (vm *VM) getField(recv object.Value, name string) (object.Value, bool) {
	if recv.IsObject() {
		if inst, ok := recv.AsObject().(*object.Instance); ok {
			if v, ok := inst.Fields[name]; ok {
				return v, true
			}
		}
	}
	if cls := vm.classForValue(recv); cls != nil {
		if m, _, ok := cls.LookupMethod(name); ok {
			bm := object.NewBoundMethod(recv, m)
			vm.heap.Track(bm, 32)
			return object.FromObj(bm), true
		}
	}
	vm.raiseRuntimef("no field or method '%s'", name)
	return object.Value{}, false
}

func (vm *VM) setField(recv object.Value, name string, val object.Value) bool {
	inst, ok := recv.AsObject().(*object.Instance)
	if !recv.IsObject() || !ok {
		vm.raiseRuntimef("cannot set field '%s' on a non-instance value", name)
		return false
	}
	inst.Fields[name] = val
	return true
}

// ---- collections ----

func (vm *VM) sequenceElems(v object.Value) ([]object.Value, bool) {
	if v.IsObject() {
		switch o := v.AsObject().(type) {
		case *object.List:
			return o.Elems, true
		case *object.Tuple:
			return o.Elems, true
		}
	}
	vm.raiseRuntimef("value is not unpackable")
	return nil, false
}

// spread expands the final element of an *Unpack call site's raw
// argument list (which must be a List or Tuple) into individual
// trailing arguments.
func (vm *VM) spread(rawArgs []object.Value) ([]object.Value, bool) {
	if len(rawArgs) == 0 {
		vm.raiseRuntimef("spread call requires at least one argument")
		return nil, false
	}
	elems, ok := vm.sequenceElems(rawArgs[len(rawArgs)-1])
	if !ok {
		return nil, false
	}
	out := append([]object.Value{}, rawArgs[:len(rawArgs)-1]...)
	return append(out, elems...), true
}

// ---- operators ----

func asString(v object.Value) (string, bool) {
	if !v.IsObject() {
		return "", false
	}
	s, ok := v.AsObject().(*object.String)
	if !ok {
		return "", false
	}
	return s.Go(), true
}

func (vm *VM) valueEquals(a, b object.Value) (object.Value, bool) {
	if a.IsObject() {
		if _, ok := a.AsObject().(*object.Instance); ok {
			if cls := vm.classForValue(a); cls != nil {
				if _, _, ok := cls.LookupMethod("__eq__"); ok {
					v, err := vm.invokeSync("__eq__", a, []object.Value{b})
					if err != nil {
						vm.reraise(err)
						return object.Value{}, false
					}
					return v, true
				}
			}
		}
	}
	return object.Bool(a.Equals(b)), true
}

func (vm *VM) binaryOp(op bytecode.Opcode, a, b object.Value) (object.Value, bool) {
	switch op {
	case bytecode.OpAdd:
		if a.IsNumber() && b.IsNumber() {
			return object.Num(a.AsNumber() + b.AsNumber()), true
		}
		if as, ok := asString(a); ok {
			if bs, ok2 := asString(b); ok2 {
				return object.FromObj(vm.heap.Intern(as + bs)), true
			}
		}
		vm.raiseRuntimef("unsupported operand types for '+'")
		return object.Value{}, false
	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow:
		if !a.IsNumber() || !b.IsNumber() {
			vm.raiseRuntimef("arithmetic requires numbers")
			return object.Value{}, false
		}
		x, y := a.AsNumber(), b.AsNumber()
		switch op {
		case bytecode.OpSub:
			return object.Num(x - y), true
		case bytecode.OpMul:
			return object.Num(x * y), true
		case bytecode.OpDiv:
			if y == 0 {
				vm.raiseRuntimef("division by zero")
				return object.Value{}, false
			}
			return object.Num(x / y), true
		case bytecode.OpMod:
			if y == 0 {
				vm.raiseRuntimef("division by zero")
				return object.Value{}, false
			}
			return object.Num(math.Mod(x, y)), true
		default: // OpPow
			return object.Num(math.Pow(x, y)), true
		}
	case bytecode.OpEq:
		return vm.valueEquals(a, b)
	case bytecode.OpIs:
		return object.Bool(a.Equals(b)), true
	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		if a.IsNumber() && b.IsNumber() {
			x, y := a.AsNumber(), b.AsNumber()
			return object.Bool(numCompare(op, x, y)), true
		}
		if as, ok := asString(a); ok {
			if bs, ok2 := asString(b); ok2 {
				return object.Bool(strCompare(op, as, bs)), true
			}
		}
		vm.raiseRuntimef("comparison requires two numbers or two strings")
		return object.Value{}, false
	}
	vm.raiseRuntimef("unknown binary operator")
	return object.Value{}, false
}

func numCompare(op bytecode.Opcode, x, y float64) bool {
	switch op {
	case bytecode.OpLt:
		return x < y
	case bytecode.OpLe:
		return x <= y
	case bytecode.OpGt:
		return x > y
	default: // OpGe
		return x >= y
	}
}

func strCompare(op bytecode.Opcode, x, y string) bool {
	switch op {
	case bytecode.OpLt:
		return x < y
	case bytecode.OpLe:
		return x <= y
	case bytecode.OpGt:
		return x > y
	default: // OpGe
		return x >= y
	}
}

// ---- modules ----

func (vm *VM) resolveModule(name string) (*object.Module, error) {
	if m, ok := vm.modules[name]; ok {
		return m, nil
	}
	if vm.loader == nil {
		return nil, fmt.Errorf("no module loader configured; cannot import '%s'", name)
	}
	m, err := vm.loader.Load(name)
	if err != nil {
		return nil, err
	}
	vm.modules[name] = m
	mainClosure := object.NewClosure(m.Main)
	vm.heap.Track(mainClosure, 32)
	floor := len(vm.frames)
	vm.frames = append(vm.frames, frame{closure: mainClosure, basePointer: vm.sp, resultSlot: vm.sp})
	if _, err := vm.run(floor); err != nil {
		return nil, err
	}
	return m, nil
}

// ---- garbage collection ----

func (vm *VM) collectGarbage() {
	for i := 0; i < vm.sp; i++ {
		vm.heap.MarkValue(vm.stack[i])
	}
	for i := range vm.frames {
		vm.heap.Mark(vm.frames[i].closure)
	}
	for cur := vm.openUpvalues; cur != nil; cur = cur.Next {
		vm.heap.Mark(cur)
	}
	for _, m := range vm.modules {
		vm.heap.Mark(m)
	}
	for _, c := range vm.coreClasses {
		vm.heap.Mark(c)
	}
	vm.heap.PropagateGray()
	vm.heap.Sweep()
	vm.heap.AfterCollect()
}

// ---- the interpreter loop ----

// run executes instructions until the frame stack depth drops back to
// floor (the depth it had when this invocation of run started),
// returning the value left at that frame's resultSlot. An uncaught
// raise surfaces as a Go error instead.
func (vm *VM) run(floor int) (object.Value, error) {
	vm.runFloors = append(vm.runFloors, floor)
	defer func() { vm.runFloors = vm.runFloors[:len(vm.runFloors)-1] }()

	for {
		f := vm.curFrame()
		op := bytecode.Opcode(vm.readByte())

		switch op {
		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow,
			bytecode.OpEq, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe, bytecode.OpIs:
			b := vm.pop()
			a := vm.pop()
			res, ok := vm.binaryOp(op, a, b)
			if !ok {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(res)

		case bytecode.OpNeg:
			a := vm.pop()
			if !a.IsNumber() {
				vm.raiseRuntimef("unary '-' requires a number")
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(object.Num(-a.AsNumber()))

		case bytecode.OpNot:
			vm.push(object.Bool(!vm.pop().Truthy()))

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpPopN:
			vm.sp -= int(vm.readByte())

		case bytecode.OpDup:
			vm.push(vm.peek(0))

		case bytecode.OpNull:
			vm.push(object.Null)

		case bytecode.OpTrue:
			vm.push(object.True)

		case bytecode.OpFalse:
			vm.push(object.False)

		case bytecode.OpGetConst:
			idx := vm.readU16()
			vm.push(f.closure.Fn.Code.Constants[idx])

		case bytecode.OpGetLocal:
			vm.push(vm.stack[f.basePointer+int(vm.readByte())])

		case bytecode.OpSetLocal:
			slot := int(vm.readByte())
			vm.stack[f.basePointer+slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			symIdx := vm.readU16()
			sym := &f.closure.Fn.Code.Symbols[symIdx]
			name := vm.constName(sym.NameConst)
			v, ok := vm.module.GetGlobal(name)
			if !ok {
				vm.raiseRuntimef("undefined global '%s'", name)
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(v)

		case bytecode.OpSetGlobal:
			symIdx := vm.readU16()
			sym := &f.closure.Fn.Code.Symbols[symIdx]
			name := vm.constName(sym.NameConst)
			vm.module.SetGlobal(name, vm.peek(0))

		case bytecode.OpDefineGlobal:
			nameIdx := vm.readU16()
			vm.module.SetGlobal(vm.constName(int(nameIdx)), vm.pop())

		case bytecode.OpGetUpvalue:
			vm.push(f.closure.Upvalues[vm.readByte()].Get())

		case bytecode.OpSetUpvalue:
			f.closure.Upvalues[vm.readByte()].Set(vm.peek(0))

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case bytecode.OpGetField:
			symIdx := vm.readU16()
			name := vm.constName(int(f.closure.Fn.Code.Symbols[symIdx].NameConst))
			recv := vm.pop()
			v, ok := vm.getField(recv, name)
			if !ok {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(v)

		case bytecode.OpSetField:
			symIdx := vm.readU16()
			name := vm.constName(int(f.closure.Fn.Code.Symbols[symIdx].NameConst))
			val := vm.pop()
			recv := vm.pop()
			if !vm.setField(recv, name, val) {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(val)

		case bytecode.OpSubscrGet:
			idx := vm.pop()
			recv := vm.pop()
			v, err := vm.invokeSync("__get__", recv, []object.Value{idx})
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(v)

		case bytecode.OpSubscrSet:
			val := vm.pop()
			idx := vm.pop()
			recv := vm.pop()
			v, err := vm.invokeSync("__set__", recv, []object.Value{idx, val})
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(v)

		case bytecode.OpCall, bytecode.OpCallUnpack:
			argc := int(vm.readByte())
			calleeSlot := vm.sp - argc - 1
			callee := vm.stack[calleeSlot]
			rawArgs := append([]object.Value(nil), vm.stack[calleeSlot+1:vm.sp]...)
			if op == bytecode.OpCallUnpack {
				var ok bool
				rawArgs, ok = vm.spread(rawArgs)
				if !ok {
					if v2, err2, uncaught := vm.checkRaised(); uncaught {
						return v2, err2
					}
					continue
				}
			}
			if !vm.dispatchCall(calleeSlot, callee, rawArgs) {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
			}

		case bytecode.OpInvoke, bytecode.OpInvokeUnpack:
			argc := int(vm.readByte())
			symIdx := vm.readU16()
			if !vm.doInvoke(argc, symIdx, op == bytecode.OpInvokeUnpack) {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
			}

		case bytecode.OpSuper, bytecode.OpSuperUnpack:
			argc := int(vm.readByte())
			symIdx := vm.readU16()
			if !vm.doSuperCall(argc, symIdx, op == bytecode.OpSuperUnpack) {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
			}

		case bytecode.OpSuperBind:
			symIdx := vm.readU16()
			this := vm.pop()
			home := f.closure.Fn.HomeClass
			if home == nil || home.Super == nil {
				vm.raiseRuntimef("'super' used outside a subclass method")
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			name := vm.constName(int(f.closure.Fn.Code.Symbols[symIdx].NameConst))
			method, _, ok := home.Super.LookupMethod(name)
			if !ok {
				vm.raiseRuntimef("no superclass method '%s'", name)
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			bm := object.NewBoundMethod(this, method)
			vm.heap.Track(bm, 32)
			vm.push(object.FromObj(bm))

		case bytecode.OpReturn:
			retVal := vm.pop()
			fr := vm.frames[len(vm.frames)-1]
			vm.closeUpvalues(fr.basePointer)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if fr.ctorOf != nil {
				retVal = object.FromObj(fr.ctorOf)
			}
			vm.sp = fr.resultSlot
			vm.push(retVal)
			if len(vm.frames) == floor {
				return vm.pop(), nil
			}

		case bytecode.OpClosure:
			fnIdx := vm.readU16()
			fn := f.closure.Fn.Code.Constants[fnIdx].AsObject().(*object.Function)
			cl := object.NewClosure(fn)
			for i := 0; i < fn.UpvalCount; i++ {
				isLocal := vm.readByte()
				index := int(vm.readByte())
				if isLocal == 1 {
					cl.Upvalues[i] = vm.captureUpvalue(f.basePointer + index)
				} else {
					cl.Upvalues[i] = f.closure.Upvalues[index]
				}
			}
			vm.heap.Track(cl, 32+8*fn.UpvalCount)
			vm.push(object.FromObj(cl))

		case bytecode.OpNewClass:
			nameIdx := vm.readU16()
			cls := object.NewClass(vm.heap.Intern(vm.constName(int(nameIdx))), nil)
			vm.heap.Track(cls, 96)
			vm.push(object.FromObj(cls))

		case bytecode.OpNewSubclass:
			nameIdx := vm.readU16()
			superVal := vm.pop()
			super, ok := superVal.AsObject().(*object.Class)
			if !ok {
				vm.raiseRuntimef("superclass expression is not a class")
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			cls := object.NewClass(vm.heap.Intern(vm.constName(int(nameIdx))), super)
			cls.FieldNames = append(cls.FieldNames, super.FieldNames...)
			vm.heap.Track(cls, 96)
			vm.push(object.FromObj(cls))

		case bytecode.OpDefMethod, bytecode.OpDefStatic:
			nameIdx := vm.readU16()
			name := vm.constName(int(nameIdx))
			closureVal := vm.pop()
			cls := vm.peek(0).AsObject().(*object.Class)
			if cl, ok := closureVal.AsObject().(*object.Closure); ok {
				cl.Fn.HomeClass = cls
			}
			if op == bytecode.OpDefStatic {
				cls.StaticMethods[name] = closureVal
			} else {
				cls.Methods[name] = closureVal
			}

		case bytecode.OpNatMethod:
			nameIdx := vm.readU16()
			natIdx := vm.readU16()
			cls := vm.peek(0).AsObject().(*object.Class)
			cls.Methods[vm.constName(int(nameIdx))] = f.closure.Fn.Code.Constants[natIdx]

		case bytecode.OpNative:
			natIdx := vm.readU16()
			vm.push(f.closure.Fn.Code.Constants[natIdx])

		case bytecode.OpJump:
			f.ip += int(vm.readI16())

		case bytecode.OpJumpT:
			off := vm.readI16()
			if vm.pop().Truthy() {
				f.ip += int(off)
			}

		case bytecode.OpJumpF:
			off := vm.readI16()
			if !vm.pop().Truthy() {
				f.ip += int(off)
			}

		case bytecode.OpForIter:
			it := vm.pop()
			v, err := vm.invokeSync("__iter__", it, nil)
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(v)

		case bytecode.OpForNext:
			off := vm.readI16()
			it := vm.peek(0)
			v, err := vm.invokeSync("__next__", it, nil)
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			vm.push(v)
			if v.IsNull() {
				f.ip += int(off)
			}

		case bytecode.OpEnd:
			vm.readByte()
			vm.raiseRuntimef("internal error: unresolved loop-end marker reached at runtime")
			if v2, err2, uncaught := vm.checkRaised(); uncaught {
				return v2, err2
			}

		case bytecode.OpSetupExcept:
			off := vm.readI16()
			vm.handlers = append(vm.handlers, handlerEntry{
				frameDepth: len(vm.frames) - 1,
				target:     f.ip + int(off),
				stackDepth: vm.sp,
			})

		case bytecode.OpSetupEnsure:
			off := vm.readI16()
			vm.handlers = append(vm.handlers, handlerEntry{
				frameDepth: len(vm.frames) - 1,
				target:     f.ip + int(off),
				stackDepth: vm.sp,
				isEnsure:   true,
			})

		case bytecode.OpPopHandler:
			vm.handlers = vm.handlers[:len(vm.handlers)-1]

		case bytecode.OpEndHandler:
			// reserved: not currently emitted by the compiler.

		case bytecode.OpRaise:
			excVal := vm.pop()
			vm.raiseValue(excVal)
			if v2, err2, uncaught := vm.checkRaised(); uncaught {
				return v2, err2
			}

		case bytecode.OpNewList:
			l := object.NewList(nil)
			vm.heap.Track(l, 32)
			vm.push(object.FromObj(l))

		case bytecode.OpAppendList:
			v := vm.pop()
			vm.peek(0).AsObject().(*object.List).Append(v)

		case bytecode.OpNewTuple:
			n := int(vm.readByte())
			elems := make([]object.Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			t := object.NewTuple(elems)
			vm.heap.Track(t, 32+8*n)
			vm.push(object.FromObj(t))

		case bytecode.OpNewTable:
			tbl := object.NewTable()
			vm.heap.Track(tbl, 64)
			vm.push(object.FromObj(tbl))

		case bytecode.OpUnpack:
			n := int(vm.readByte())
			elems, ok := vm.sequenceElems(vm.pop())
			if !ok {
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			if len(elems) < n {
				vm.raiseRuntimef("not enough values to unpack: need %d, got %d", n, len(elems))
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			for i := 0; i < n; i++ {
				vm.push(elems[i])
			}

		case bytecode.OpImport:
			name := vm.constName(int(vm.readU16()))
			mod, err := vm.resolveModule(name)
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			vm.module.SetGlobal(name, object.FromObj(mod))

		case bytecode.OpImportAs:
			name := vm.constName(int(vm.readU16()))
			alias := vm.constName(int(vm.readU16()))
			mod, err := vm.resolveModule(name)
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			vm.module.SetGlobal(alias, object.FromObj(mod))

		case bytecode.OpImportFrom:
			name := vm.constName(int(vm.readU16()))
			_, err := vm.resolveModule(name)
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
			}

		case bytecode.OpImportName:
			modName := vm.constName(int(vm.readU16()))
			memberName := vm.constName(int(vm.readU16()))
			mod, err := vm.resolveModule(modName)
			if err != nil {
				if v2, err2, uncaught := vm.reraise(err); uncaught {
					return v2, err2
				}
				continue
			}
			v, ok := mod.GetGlobal(memberName)
			if !ok {
				vm.raiseRuntimef("module '%s' has no member '%s'", mod.Name.Go(), memberName)
				if v2, err2, uncaught := vm.checkRaised(); uncaught {
					return v2, err2
				}
				continue
			}
			vm.module.SetGlobal(memberName, v)

		default:
			vm.raiseRuntimef("unknown opcode %v", op)
			if v2, err2, uncaught := vm.checkRaised(); uncaught {
				return v2, err2
			}
		}

		if vm.heap.ShouldCollect() {
			vm.collectGarbage()
		}
	}
}
