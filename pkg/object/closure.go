package object

// Upvalue is a pointer-to-Value. While "open" it points at a live slot
// on some VM's operand stack (Stack/Slot); on Close, the value is
// copied into closed and Slot is redirected to point at that field, so
// every reader of the upvalue keeps working uniformly.
//
// Open upvalues are chained (Next) in descending-stack-address order on
// the owning VM, so the compiler/VM can find-or-create one for a given
// stack slot in a single linear scan and so closing a range of slots
// (on scope exit) is a contiguous prefix of the list.
type Upvalue struct {
	Header
	Slot      *Value // while open: points into a VM's operand stack
	StackSlot int     // absolute stack index Slot pointed at while open; stable across close, lets the VM find-or-create and close a contiguous range by plain integer comparison instead of pointer arithmetic
	closed    Value   // while closed: the copied-out value Slot points to
	Next      *Upvalue
}

// NewOpenUpvalue creates an upvalue pointing at a live stack slot.
func NewOpenUpvalue(slot *Value, stackSlot int) *Upvalue {
	u := &Upvalue{Slot: slot, StackSlot: stackSlot}
	u.kind = ObjUpvalue
	return u
}

// IsOpen reports whether this upvalue still points into a stack.
func (u *Upvalue) IsOpen() bool { return u.Slot != &u.closed }

// Close copies the current value inward and redirects Slot at the
// upvalue's own storage, detaching it from the stack slot it used to
// alias.
func (u *Upvalue) Close() {
	u.closed = *u.Slot
	u.Slot = &u.closed
}

// Get reads through the upvalue, open or closed.
func (u *Upvalue) Get() Value { return *u.Slot }

// Set writes through the upvalue, open or closed. Two closures sharing
// an open upvalue observe each other's writes; once closed they still
// share the same cell because both closures hold the same *Upvalue.
func (u *Upvalue) Set(v Value) { *u.Slot = v }

// Closure pairs a Function prototype with the upvalues it captured at
// creation time. This is the only callable representation the VM
// actually executes interpreted code through.
type Closure struct {
	Header
	Fn       *Function
	Upvalues []*Upvalue
}

func NewClosure(fn *Function) *Closure {
	cl := &Closure{Fn: fn, Upvalues: make([]*Upvalue, fn.UpvalCount)}
	cl.kind = ObjClosure
	return cl
}
