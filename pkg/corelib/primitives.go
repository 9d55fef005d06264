package corelib

import (
	"math"
	"strconv"

	"github.com/kristofer/smogvm/pkg/object"
)

// installNumberMethods wires Number's dunders plus the small set of
// convenience math operations (abs/floor/ceil/round/sqrt) that the
// teacher's arithmetic opcodes don't cover since those only handle the
// binary operators, not unary library functions.
func installNumberMethods(heap *object.Heap, cls *object.Class) {
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(formatNumber(args[0].AsNumber()))), true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		if !args[1].IsNumber() {
			return object.False, true
		}
		return object.Bool(args[0].AsNumber() == args[1].AsNumber()), true
	})
	native(heap, cls, "__hash__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(object.HashValue(args[0]))), true
	})
	native(heap, cls, "abs", 0, false, numUnary(math.Abs))
	native(heap, cls, "floor", 0, false, numUnary(math.Floor))
	native(heap, cls, "ceil", 0, false, numUnary(math.Ceil))
	native(heap, cls, "round", 0, false, numUnary(math.Round))
	native(heap, cls, "sqrt", 0, false, numUnary(math.Sqrt))
}

func numUnary(f func(float64) float64) object.NativeFn {
	return func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		if !args[0].IsNumber() {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "not a number")
		}
		return object.Num(f(args[0].AsNumber())), true
	}
}

// formatNumber renders an integral-valued number without a trailing
// ".0" (5 -> "5") and everything else with Go's shortest round-trip
// float formatting (5.5 -> "5.5"), matching how a scripting language's
// literals usually print back.
func formatNumber(n float64) string {
	if math.IsNaN(n) {
		return "nan"
	}
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func installBooleanMethods(heap *object.Heap, cls *object.Class) {
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		if args[0].AsBool() {
			return object.FromObj(vm.Intern("true")), true
		}
		return object.FromObj(vm.Intern("false")), true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Bool(args[1].IsBool() && args[0].AsBool() == args[1].AsBool()), true
	})
	native(heap, cls, "__hash__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(object.HashValue(args[0]))), true
	})
}

func installNullMethods(heap *object.Heap, cls *object.Class) {
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern("null")), true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Bool(args[1].IsNull()), true
	})
	native(heap, cls, "__hash__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(0), true
	})
}
