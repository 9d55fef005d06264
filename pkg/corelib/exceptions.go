package corelib

import "github.com/kristofer/smogvm/pkg/object"

// exceptionNames enumerates the built-in Exception subclasses every
// program can catch by name without importing anything. pkg/corelib's
// String/List/Table natives raise a handful of them directly; the VM's
// own raise sites (bad field access, arity mismatch, wrong operand
// types, ...) raise RuntimeError, and stack overflow raises
// StackOverflowException.
var exceptionNames = []string{
	"TypeException",
	"NameException",
	"FieldException",
	"MethodException",
	"ImportException",
	"StackOverflowException",
	"SyntaxException",
	"InvalidArgException",
	"IndexOutOfBoundException",
	"AssertException",
	"NotImplementedException",
	"ProgramInterrupt",
	"RegexException",
}

// installExceptions builds the Exception root (carrying "_err",
// "_cause", and "_stacktrace" fields, the names the language's
// end-to-end catch scenarios read directly as `e._err`) and its named
// subclasses, registering every one of them under classes so
// vm.RegisterCoreClass and VM.Raise(vm.CoreClass("TypeException"), ...)
// can find them by name. RuntimeError is the one the VM's own
// raiseRuntimef falls back to when no more specific exception applies.
func installExceptions(heap *object.Heap, object_ *object.Class, classes map[string]*object.Class) {
	exception := newClass(heap, "Exception", object_)
	exception.FieldNames = []string{"_err", "_cause", "_stacktrace"}
	native(heap, exception, "Exception", 0, true, exceptionCtor)
	native(heap, exception, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		inst := args[0].AsObject().(*object.Instance)
		if m, ok := inst.Fields["_err"]; ok {
			if s, ok := m.AsObject().(*object.String); ok {
				return object.FromObj(vm.Intern(inst.Class().Name.Go() + ": " + s.Go())), true
			}
		}
		return object.FromObj(vm.Intern(inst.Class().Name.Go())), true
	})
	classes["Exception"] = exception

	runtimeError := newClass(heap, "RuntimeError", exception)
	runtimeError.FieldNames = []string{"_err", "_cause", "_stacktrace"}
	native(heap, runtimeError, "RuntimeError", 0, true, exceptionCtor)
	classes["RuntimeError"] = runtimeError

	for _, name := range exceptionNames {
		sub := newClass(heap, name, exception)
		sub.FieldNames = []string{"_err", "_cause", "_stacktrace"}
		native(heap, sub, name, 0, true, exceptionCtor)
		classes[name] = sub
	}
}

// exceptionCtor is shared by every Exception subclass's own same-named
// constructor: the VM only ever looks up a constructor method keyed by
// the exact class being constructed (dispatchCall's *Class case), so a
// superclass method named "Exception" is never found when constructing
// a "TypeException" — each subclass needs its own entry, and they can
// all point at this one closure. Sets _err from the first constructor
// argument (Null if omitted) and _cause from the second.
func exceptionCtor(vm object.NativeContext, args []object.Value) (object.Value, bool) {
	inst := args[0].AsObject().(*object.Instance)
	inst.Fields["_err"] = object.Null
	inst.Fields["_cause"] = object.Null
	inst.Fields["_stacktrace"] = object.Null
	if len(args) > 1 {
		inst.Fields["_err"] = args[1]
	}
	if len(args) > 2 {
		inst.Fields["_cause"] = args[2]
	}
	return object.Null, true
}
