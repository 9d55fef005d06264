package corelib

import (
	"fmt"

	"github.com/kristofer/smogvm/pkg/object"
)

// installIteratorMethods wires the single internal cursor type every
// collection's __iter__ returns: a snapshot of the elements to walk (a
// plain List, built once up front) plus a position, so List/Tuple/Table/
// String all share one __next__ body instead of each needing its own
// iterator bookkeeping.
func installIteratorMethods(heap *object.Heap, cls *object.Class) {
	native(heap, cls, "__next__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		inst := args[0].AsObject().(*object.Instance)
		elems := inst.Fields["elems"].AsObject().(*object.List).Elems
		idx := int(inst.Fields["index"].AsNumber())
		if idx >= len(elems) {
			return object.Null, true
		}
		inst.Fields["index"] = object.Num(float64(idx + 1))
		return elems[idx], true
	})
}

// newIterator snapshots container's elements into a cursor Instance.
// container must be a *object.List, *object.Tuple, *object.Table, or
// *object.String; anything else yields an empty iterator rather than
// panicking, since __iter__ call sites are already past a method-lookup
// that only List/Tuple/Table/String classes install.
func newIterator(heap *object.Heap, iterCls *object.Class, container object.Value) object.Value {
	var elems []object.Value
	if container.IsObject() {
		switch o := container.AsObject().(type) {
		case *object.List:
			elems = o.Elems
		case *object.Tuple:
			elems = o.Elems
		case *object.Table:
			for _, e := range o.Entries() {
				pair := object.NewTuple([]object.Value{e.Key, e.Value})
				heap.Track(pair, 24)
				elems = append(elems, object.FromObj(pair))
			}
		case *object.String:
			runes := []rune(o.Go())
			elems = make([]object.Value, len(runes))
			for i, r := range runes {
				elems[i] = object.FromObj(heap.Intern(string(r)))
			}
		}
	}
	snapshot := object.NewList(elems)
	heap.Track(snapshot, 24+16*len(elems))
	inst := object.NewInstance(iterCls)
	inst.Fields["elems"] = object.FromObj(snapshot)
	inst.Fields["index"] = object.Num(0)
	heap.Track(inst, 48)
	return object.FromObj(inst)
}

func installListMethods(heap *object.Heap, cls *object.Class, iterator *object.Class) {
	native(heap, cls, "__len__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(asList(args[0]).Len())), true
	})
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(formatSequence(vm, "[", "]", asList(args[0]).Elems))), true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		other, ok := args[1].AsObject().(*object.List)
		if !ok {
			return object.False, true
		}
		return object.Bool(elemsEqual(asList(args[0]).Elems, other.Elems)), true
	})
	native(heap, cls, "__iter__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return newIterator(heap, iterator, args[0]), true
	})
	native(heap, cls, "__get__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		l := asList(args[0])
		idx, ok := runeIndex(args[1], l.Len())
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("IndexOutOfBoundException"), "list index out of range")
		}
		return l.Elems[idx], true
	})
	native(heap, cls, "__set__", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		l := asList(args[0])
		idx, ok := runeIndex(args[1], l.Len())
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("IndexOutOfBoundException"), "list index out of range")
		}
		l.Elems[idx] = args[2]
		return args[2], true
	})
	native(heap, cls, "add", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		asList(args[0]).Append(args[1])
		return args[0], true
	})
	native(heap, cls, "removeAt", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		l := asList(args[0])
		idx, ok := runeIndex(args[1], l.Len())
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("IndexOutOfBoundException"), "list index out of range")
		}
		removed := l.Elems[idx]
		l.Elems = append(l.Elems[:idx], l.Elems[idx+1:]...)
		return removed, true
	})
}

func installTupleMethods(heap *object.Heap, cls *object.Class, iterator *object.Class) {
	native(heap, cls, "__len__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(asTuple(args[0]).Len())), true
	})
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(formatSequence(vm, "(", ")", asTuple(args[0]).Elems))), true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		other, ok := args[1].AsObject().(*object.Tuple)
		if !ok {
			return object.False, true
		}
		return object.Bool(elemsEqual(asTuple(args[0]).Elems, other.Elems)), true
	})
	native(heap, cls, "__iter__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return newIterator(heap, iterator, args[0]), true
	})
	native(heap, cls, "__get__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		t := asTuple(args[0])
		idx, ok := runeIndex(args[1], t.Len())
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("IndexOutOfBoundException"), "tuple index out of range")
		}
		return t.Elems[idx], true
	})
}

func installTableMethods(heap *object.Heap, cls *object.Class, iterator *object.Class) {
	native(heap, cls, "__len__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(asTable(args[0]).Len())), true
	})
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		t := asTable(args[0])
		s := "{"
		for i, e := range t.Entries() {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%v: %v", display(vm, e.Key), display(vm, e.Value))
		}
		return object.FromObj(vm.Intern(s + "}")), true
	})
	native(heap, cls, "__iter__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return newIterator(heap, iterator, args[0]), true
	})
	native(heap, cls, "__get__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		v, ok := asTable(args[0]).Get(args[1])
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("FieldException"), "key not found")
		}
		return v, true
	})
	native(heap, cls, "__set__", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		asTable(args[0]).Set(args[1], args[2])
		return args[2], true
	})
	native(heap, cls, "has", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		_, ok := asTable(args[0]).Get(args[1])
		return object.Bool(ok), true
	})
	native(heap, cls, "remove", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Bool(asTable(args[0]).Delete(args[1])), true
	})
}

func asList(v object.Value) *object.List   { return v.AsObject().(*object.List) }
func asTuple(v object.Value) *object.Tuple { return v.AsObject().(*object.Tuple) }
func asTable(v object.Value) *object.Table { return v.AsObject().(*object.Table) }

func elemsEqual(a, b []object.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

// display renders a Value for a container's __string__ without going
// through the full dunder dispatch (__string__ call sites inside a
// native already have a NativeContext, not a VM, so invokeSync isn't
// reachable here); it covers the shapes that actually show up inside a
// List/Tuple/Table: primitives and interned strings. User instances
// print their class name only, same as Object's default __string__.
func display(vm object.NativeContext, v object.Value) string {
	switch v.Kind() {
	case object.KindNull:
		return "null"
	case object.KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case object.KindNumber:
		return formatNumber(v.AsNumber())
	case object.KindObject:
		if s, ok := v.AsObject().(*object.String); ok {
			return fmt.Sprintf("%q", s.Go())
		}
		if inst, ok := v.AsObject().(*object.Instance); ok && inst.Class() != nil {
			return fmt.Sprintf("<%s instance>", inst.Class().Name.Go())
		}
	}
	return "?"
}

func formatSequence(vm object.NativeContext, open, closeTok string, elems []object.Value) string {
	s := open
	for i, e := range elems {
		if i > 0 {
			s += ", "
		}
		s += display(vm, e)
	}
	return s + closeTok
}
