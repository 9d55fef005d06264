package object

// Class is a named method table with an optional superclass. NewClass
// leaves a Class's own class pointer nil; the one exception is the
// metaclass "Class", which corelib.Bootstrap makes its own class. No
// other Class object is given the metaclass as its class pointer.
type Class struct {
	Header
	Name          *String
	Super         *Class
	Methods       map[string]Value // String name -> Closure/Native/BoundMethod
	StaticMethods map[string]Value // class-level methods, called on the Class itself
	FieldNames    []string         // declared instance field names, superclass fields first
}

func NewClass(name *String, super *Class) *Class {
	c := &Class{
		Name:          name,
		Super:         super,
		Methods:       make(map[string]Value),
		StaticMethods: make(map[string]Value),
	}
	c.kind = ObjClass
	return c
}

// LookupMethod walks the superclass chain: the method-chain half of the
// "instance fields -> class method chain -> error" dispatch order.
func (c *Class) LookupMethod(name string) (Value, *Class, bool) {
	for cur := c; cur != nil; cur = cur.Super {
		if m, ok := cur.Methods[name]; ok {
			return m, cur, true
		}
	}
	return Value{}, nil, false
}

// LookupStaticMethod walks the superclass chain looking up a class-level
// method (one declared `static name(...)` in the source).
func (c *Class) LookupStaticMethod(name string) (Value, *Class, bool) {
	for cur := c; cur != nil; cur = cur.Super {
		if m, ok := cur.StaticMethods[name]; ok {
			return m, cur, true
		}
	}
	return Value{}, nil, false
}

// FieldIndex returns the slot index of a declared field name, or -1.
func (c *Class) FieldIndex(name string) int {
	for i, n := range c.FieldNames {
		if n == name {
			return i
		}
	}
	return -1
}

// TotalFields is the number of instance fields an Instance of this class
// carries, including inherited ones (FieldNames already includes them,
// appended superclass-first by the compiler/corelib).
func (c *Class) TotalFields() int { return len(c.FieldNames) }

// Instance is a heap object created from a Class: a class pointer plus
// a field map. The well-known Exception family additionally treats
// fields named "_err", "_cause", and "_stacktrace" specially, but
// that's a convention consumed by corelib/vm, not a distinct Go type.
type Instance struct {
	Header
	Fields map[string]Value
}

func NewInstance(class *Class) *Instance {
	i := &Instance{Fields: make(map[string]Value, len(class.FieldNames))}
	i.kind = ObjInstance
	i.class = class
	return i
}

// BoundMethod pairs a receiver with a function-like object (Closure or
// Native), produced by OpSuperBind and by plain method-value expressions
// (`obj.method` used as a value rather than called immediately).
type BoundMethod struct {
	Header
	Receiver Value
	Method   Value
}

func NewBoundMethod(receiver, method Value) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	b.kind = ObjBoundMethod
	return b
}
