package object

// gray is the heap's explicit mark worklist. Using a slice instead of
// recursive marking avoids blowing the Go call stack on a deep list or
// a long upvalue chain.
type gcState struct {
	gray []Obj
}

// MarkValue marks v if it's a heap object and wasn't already marked,
// pushing it onto the gray worklist for PropagateGray to expand later.
// Non-object values (numbers, bools, null, handles) are no-ops.
func (h *Heap) MarkValue(v Value) {
	if !v.IsObject() {
		return
	}
	h.Mark(v.AsObject())
}

// Mark marks a single object reachable, enqueuing it for its own
// children to be traced by PropagateGray. Safe to call on an
// already-marked object (becomes a no-op).
func (h *Heap) Mark(o Obj) {
	if o == nil {
		return
	}
	hdr := o.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.gcGray = append(h.gcGray, o)
}

// PropagateGray drains the gray worklist, marking every object each
// gray object directly references (its class, and kind-specific
// children) until the worklist is empty — the classic tri-color
// "gray becomes black by marking its children" step.
func (h *Heap) PropagateGray() {
	for len(h.gcGray) > 0 {
		n := len(h.gcGray) - 1
		o := h.gcGray[n]
		h.gcGray = h.gcGray[:n]
		h.markChildren(o)
	}
}

func (h *Heap) markChildren(o Obj) {
	if cls := o.header().class; cls != nil {
		h.Mark(cls)
	}
	switch v := o.(type) {
	case *String:
		// no object children
	case *Function:
		if v.Name != nil {
			h.Mark(v.Name)
		}
		if v.Module != nil {
			h.Mark(v.Module)
		}
		for _, c := range v.Code.Constants {
			h.MarkValue(c)
		}
		for _, d := range v.Defaults {
			h.MarkValue(d)
		}
	case *Native:
		if v.Name != nil {
			h.Mark(v.Name)
		}
	case *Closure:
		h.Mark(v.Fn)
		for _, u := range v.Upvalues {
			if u != nil {
				h.Mark(u)
			}
		}
	case *Upvalue:
		h.MarkValue(*v.Slot)
	case *Class:
		if v.Name != nil {
			h.Mark(v.Name)
		}
		if v.Super != nil {
			h.Mark(v.Super)
		}
		for _, m := range v.Methods {
			h.MarkValue(m)
		}
		for _, m := range v.StaticMethods {
			h.MarkValue(m)
		}
	case *Instance:
		for _, f := range v.Fields {
			h.MarkValue(f)
		}
	case *Module:
		if v.Name != nil {
			h.Mark(v.Name)
		}
		for _, g := range v.Globals {
			h.MarkValue(g)
		}
		if v.Main != nil {
			h.Mark(v.Main)
		}
	case *List:
		for _, e := range v.Elems {
			h.MarkValue(e)
		}
	case *Tuple:
		for _, e := range v.Elems {
			h.MarkValue(e)
		}
	case *Table:
		for _, e := range v.entries {
			if e.occupied {
				h.MarkValue(e.key)
				h.MarkValue(e.value)
			}
		}
	case *BoundMethod:
		h.MarkValue(v.Receiver)
		h.MarkValue(v.Method)
	case *StackTrace:
		// frames hold only strings/ints by value, no Obj children
	}
}

// Sweep first evicts every unmarked string from the string pool, then
// walks the allocation list freeing every unmarked object and clearing
// the mark bit on every survivor. The pool goes first because the list
// walk clears the mark bits it reads; this way an interned string with
// no other references leaves the pool in the same cycle that frees it,
// not a generation behind.
func (h *Heap) Sweep() {
	for s, str := range h.strings {
		if !str.marked {
			delete(h.strings, s)
		}
	}

	var prev Obj
	cur := h.head
	freed := 0
	for cur != nil {
		hdr := cur.header()
		next := hdr.next
		if hdr.marked {
			hdr.marked = false
			prev = cur
		} else {
			freed += hdr.size
			if prev == nil {
				h.head = next
			} else {
				prev.header().next = next
			}
		}
		cur = next
	}
	h.bytesAllocated -= freed
	if h.bytesAllocated < 0 {
		h.bytesAllocated = 0
	}
}
