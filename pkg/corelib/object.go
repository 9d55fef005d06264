package corelib

import (
	"fmt"

	"github.com/kristofer/smogvm/pkg/object"
)

// installObjectMethods wires the dunders every other core class either
// overrides or falls back to: identity equality, object.HashValue as the
// default hash (one fixed constant for every instance; instances that
// need content-based hashing override __hash__ themselves), a
// "<ClassName instance>" default stringer, and __isa__, the subclass
// test an except clause runs against its class filter.
func installObjectMethods(heap *object.Heap, cls *object.Class) {
	native(heap, cls, "__isa__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		if !args[0].IsObject() || !args[1].IsObject() {
			return object.Bool(false), true
		}
		inst, ok := args[0].AsObject().(*object.Instance)
		target, ok2 := args[1].AsObject().(*object.Class)
		if !ok || !ok2 {
			return object.Bool(false), true
		}
		for c := inst.Class(); c != nil; c = c.Super {
			if c == target {
				return object.Bool(true), true
			}
		}
		return object.Bool(false), true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Bool(args[0].Equals(args[1])), true
	})
	native(heap, cls, "__hash__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(object.HashValue(args[0]))), true
	})
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		name := "Object"
		if inst, ok := args[0].AsObject().(*object.Instance); ok && inst.Class() != nil {
			name = inst.Class().Name.Go()
		}
		return object.FromObj(vm.Intern(fmt.Sprintf("<%s instance>", name))), true
	})
}
