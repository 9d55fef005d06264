package corelib

import "github.com/kristofer/smogvm/pkg/object"

// installCallableMethods wires the two callable wrapper classes used
// only for is-checks and printing (classOf below resolves a Closure/
// Native/BoundMethod Value to one of these two classes; the VM's own
// dispatch for actually invoking a callable never consults them).
func installCallableMethods(heap *object.Heap, function, boundMethod *object.Class) {
	native(heap, function, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(funcLabel(args[0]))), true
	})
	native(heap, boundMethod, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(funcLabel(args[0]))), true
	})
}

func funcLabel(v object.Value) string {
	if !v.IsObject() {
		return "<function>"
	}
	switch o := v.AsObject().(type) {
	case *object.Closure:
		if o.Fn.Name != nil {
			return "<function " + o.Fn.Name.Go() + ">"
		}
		return "<anonymous function>"
	case *object.Native:
		return "<native function " + o.Name.Go() + ">"
	case *object.BoundMethod:
		return "<bound method>"
	}
	return "<function>"
}

// classOf extends classForValue's mapping to the callable kinds the VM's
// own dispatch doesn't need a class for, so the typeOf global
// (installTypeOf in corelib.go) can still answer typeOf(myFunc).
func classOf(reg *Registry, v object.Value) *object.Class {
	if v.IsObject() {
		switch v.AsObject().(type) {
		case *object.Closure, *object.Native:
			return reg.Classes["Function"]
		case *object.BoundMethod:
			return reg.Classes["BoundMethod"]
		}
	}
	return nil
}
