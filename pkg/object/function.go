package object

// Function is a compiled prototype: the immutable metadata shared by
// every Closure created over it. A Function is never itself executed
// directly; the VM always executes through a Closure so that upvalue
// capture has somewhere to live.
type Function struct {
	Header
	Name       *String
	Module     *Module
	Arity      int     // formal parameter count
	Vararg     bool    // trailing parameter collects excess args into a tuple
	Defaults   []Value // one value per trailing parameter with a default, in parameter order
	UpvalCount int
	Code       *Code
	IsCtor     bool // true for a method named the constructor marker
	IsMethod   bool // true if slot 0 is an implicit receiver ("this")

	// HomeClass is the class this function was installed into as a
	// method, patched by the VM when it executes OpDefMethod/OpDefStatic
	// (the compiler never sees the runtime Class object). super
	// resolution walks HomeClass.Super, not the receiver's own class, so
	// an override three levels down still reaches the right ancestor.
	HomeClass *Class
}

// NewFunction returns an empty Function prototype ready for the
// compiler to emit into, with a fresh Code buffer already attached.
func NewFunction(name *String, module *Module) *Function {
	fn := &Function{Name: name, Module: module, Code: NewCode()}
	fn.kind = ObjFunction
	return fn
}

// NativeFn is the Go function a Native object invokes. args[0] is the
// receiver/callable slot per the embedding API's positional convention;
// ok=false means the native raised (via the VM's Raise helper) and the
// returned Value should be ignored.
type NativeFn func(vm NativeContext, args []Value) (Value, bool)

// NativeContext is the minimal surface natives need from the VM without
// pkg/object importing pkg/vm (which would cycle, since the VM holds
// object references everywhere). The VM satisfies this interface.
type NativeContext interface {
	Raise(class *Class, format string, a ...any) bool
	Intern(s string) *String
	NewInstance(class *Class) *Instance
	CoreClass(name string) *Class

	// Call invokes a callable value (Closure, Native, or BoundMethod) and
	// blocks for its result, for natives that take a callback (sort
	// comparators, map/filter/each blocks). ok=false means the callee
	// raised; the raise has already been driven through the same unwind
	// path a RAISE instruction uses, so the native should just propagate
	// failure by returning (Null, false) itself.
	Call(callee Value, args []Value) (Value, bool)
}

// Native wraps a Go-implemented function with the same prototype shape
// as Function so the call machinery can treat interpreted and native
// callables uniformly.
type Native struct {
	Header
	Name   *String
	Arity  int
	Vararg bool
	Fn     NativeFn
}

// NewNative wraps a Go function as a callable Native object.
func NewNative(name *String, arity int, vararg bool, fn NativeFn) *Native {
	n := &Native{Name: name, Arity: arity, Vararg: vararg, Fn: fn}
	n.kind = ObjNative
	return n
}
