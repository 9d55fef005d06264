// Package corelib bootstraps the built-in class hierarchy every smog
// program has implicitly available: Object/Class at the root, the
// primitive-wrapping classes (Number, Boolean, Null), the three
// collection kinds, the callable wrappers, and the Exception family,
// plus the native free functions (print, httpGet, jsonParse, ...) every
// module's globals start out populated with.
//
// The stdlib-backed function bodies are re-homed here from a single
// giant dispatch switch onto native methods registered on class
// objects, one class per receiver kind.
package corelib

import "github.com/kristofer/smogvm/pkg/object"

// Registry is the result of Bootstrap: the class table the VM looks up
// receivers' methods against, and the globals every new module's Globals
// table is seeded with: the native functions plus every core class under
// its own name.
type Registry struct {
	Classes map[string]*object.Class
	Globals map[string]object.Value
}

// Bootstrap allocates the full core class hierarchy against heap and
// wires its native methods. Call once per VM; RegisterCoreClass each
// entry of Classes on the VM, and copy Globals into every module's
// Globals table before running it.
func Bootstrap(heap *object.Heap) *Registry {
	r := &Registry{
		Classes: make(map[string]*object.Class),
		Globals: make(map[string]object.Value),
	}

	object_ := newClass(heap, "Object", nil)
	class_ := newClass(heap, "Class", object_)
	number := newClass(heap, "Number", object_)
	boolean := newClass(heap, "Boolean", object_)
	null := newClass(heap, "Null", object_)
	string_ := newClass(heap, "String", object_)
	list := newClass(heap, "List", object_)
	tuple := newClass(heap, "Tuple", object_)
	table := newClass(heap, "Table", object_)
	function := newClass(heap, "Function", object_)
	boundMethod := newClass(heap, "BoundMethod", object_)

	// Class is its own class: the one self-referential edge in the
	// hierarchy, wired by hand once the metaclass object exists.
	class_.SetClass(class_)

	r.Classes["Object"] = object_
	r.Classes["Class"] = class_
	r.Classes["Number"] = number
	r.Classes["Boolean"] = boolean
	r.Classes["Null"] = null
	r.Classes["String"] = string_
	r.Classes["List"] = list
	r.Classes["Tuple"] = tuple
	r.Classes["Table"] = table
	r.Classes["Function"] = function
	r.Classes["BoundMethod"] = boundMethod

	iterator := newClass(heap, "Iterator", object_)
	installIteratorMethods(heap, iterator)

	installObjectMethods(heap, object_)
	installNumberMethods(heap, number)
	installBooleanMethods(heap, boolean)
	installNullMethods(heap, null)
	installStringMethods(heap, string_, iterator)
	installListMethods(heap, list, iterator)
	installTupleMethods(heap, tuple, iterator)
	installTableMethods(heap, table, iterator)
	installCallableMethods(heap, function, boundMethod)

	installExceptions(heap, object_, r.Classes)
	installIOGlobals(heap, r.Globals)
	installTypeOf(heap, r)

	// Core classes are reachable by name from smog source.
	for name, c := range r.Classes {
		r.Globals[name] = object.FromObj(c)
	}

	return r
}

// installTypeOf wires the one global that needs the whole Registry
// rather than a single class: typeOf resolves any value (primitive,
// collection, callable, or user instance) to its Class, covering the
// Closure/Native/BoundMethod kinds classForValue in pkg/vm deliberately
// leaves out since the VM's own dispatch never needs a class for them.
func installTypeOf(heap *object.Heap, r *Registry) {
	globalNative(heap, r.Globals, "typeOf", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		v := args[0]
		if c := classOf(r, v); c != nil {
			return object.FromObj(c), true
		}
		switch v.Kind() {
		case object.KindNumber:
			return object.FromObj(r.Classes["Number"]), true
		case object.KindBool:
			return object.FromObj(r.Classes["Boolean"]), true
		case object.KindNull:
			return object.FromObj(r.Classes["Null"]), true
		case object.KindObject:
			switch o := v.AsObject().(type) {
			case *object.Instance:
				return object.FromObj(o.Class()), true
			case *object.String:
				return object.FromObj(r.Classes["String"]), true
			case *object.List:
				return object.FromObj(r.Classes["List"]), true
			case *object.Tuple:
				return object.FromObj(r.Classes["Tuple"]), true
			case *object.Table:
				return object.FromObj(r.Classes["Table"]), true
			case *object.Class:
				return object.FromObj(r.Classes["Class"]), true
			}
		}
		return object.Null, true
	})
}

func newClass(heap *object.Heap, name string, super *object.Class) *object.Class {
	c := object.NewClass(heap.Intern(name), super)
	heap.Track(c, 96)
	return c
}

// native is a small helper so every install* function reads the same
// way: name, arity, vararg, body.
func native(heap *object.Heap, cls *object.Class, name string, arity int, vararg bool, fn object.NativeFn) {
	n := object.NewNative(heap.Intern(name), arity, vararg, fn)
	heap.Track(n, 40)
	cls.Methods[name] = object.FromObj(n)
}

func globalNative(heap *object.Heap, globals map[string]object.Value, name string, arity int, vararg bool, fn object.NativeFn) {
	n := object.NewNative(heap.Intern(name), arity, vararg, fn)
	heap.Track(n, 40)
	globals[name] = object.FromObj(n)
}
