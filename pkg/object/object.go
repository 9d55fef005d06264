package object

// ObjKind tags the concrete type of a heap object.
type ObjKind byte

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjNative
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjModule
	ObjList
	ObjTuple
	ObjTable
	ObjBoundMethod
	ObjStackTrace
)

func (k ObjKind) String() string {
	switch k {
	case ObjString:
		return "String"
	case ObjFunction:
		return "Function"
	case ObjNative:
		return "Native"
	case ObjClosure:
		return "Closure"
	case ObjUpvalue:
		return "Upvalue"
	case ObjClass:
		return "Class"
	case ObjInstance:
		return "Instance"
	case ObjModule:
		return "Module"
	case ObjList:
		return "List"
	case ObjTuple:
		return "Tuple"
	case ObjTable:
		return "Table"
	case ObjBoundMethod:
		return "BoundMethod"
	case ObjStackTrace:
		return "StackTrace"
	default:
		return "Unknown"
	}
}

// Obj is the interface every heap-allocated value implements. Every
// object carries a Header, giving it the common fields an object header
// needs: a kind tag, a class pointer, a mark bit and the intrusive
// next-link the heap's allocation list is threaded through.
type Obj interface {
	objKind() ObjKind
	header() *Header
}

// Header is embedded (by value) in every concrete object type. It is
// never constructed directly by callers; the NewX constructors set its
// kind (and, for instances, its class), and Heap.Track sets the rest.
type Header struct {
	kind    ObjKind
	class   *Class // set for Instances and for the metaclass "Class"; nil otherwise
	marked  bool   // GC "reached" bit
	next    Obj    // intrusive allocation-list link
	size    int    // approximate bytes, for the allocator's running total
}

func (h *Header) header() *Header  { return h }
func (h *Header) objKind() ObjKind { return h.kind }

// Class returns the object's class pointer: the instantiated class for
// an Instance, the metaclass itself for "Class", and nil for every other
// object (strings, collections, callables and other classes), whose
// class the VM derives from its kind instead.
func (h *Header) Class() *Class { return h.class }

// SetClass patches the object's class pointer. corelib.Bootstrap uses it
// once, to make the metaclass "Class" its own class.
func (h *Header) SetClass(c *Class) { h.class = c }

// Marked reports the GC's "reached" bit for this object.
func (h *Header) Marked() bool { return h.marked }

// Mark sets the GC's "reached" bit.
func (h *Header) Mark() { h.marked = true }

// Unmark clears the GC's "reached" bit; done to every surviving object
// at the end of a sweep so the next cycle starts white.
func (h *Header) Unmark() { h.marked = false }
