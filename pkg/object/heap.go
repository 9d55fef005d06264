package object

// Heap owns every object allocation: the intrusive allocation list GC
// sweeps, the string-interning pool, and the running byte-size counters
// that drive the "grow threshold doubles live bytes" GC trigger.
// Callers build objects with the package-level NewX constructors and
// then hand them to Track, which is the single place an object joins
// the allocation list and starts counting against bytesAllocated.
type Heap struct {
	head          Obj // intrusive allocation-list head
	bytesAllocated int
	nextGC        int

	strings map[string]*String // interning pool, weak: entries die on sweep if unmarked
	gcGray  []Obj              // mark worklist, see gc.go

	GCStress bool // when true, callers should collect before every allocation
}

const heapInitialNextGC = 1 << 20 // 1 MiB, matches clox-style starting threshold

func NewHeap() *Heap {
	return &Heap{
		strings: make(map[string]*String),
		nextGC:  heapInitialNextGC,
	}
}

// Track links a freshly constructed object into the allocation list and
// charges its approximate size against the heap's running total. Every
// NewX(...) object constructor result must be passed through Track
// exactly once before it's reachable from Go code that isn't still
// holding the only reference.
func (h *Heap) Track(o Obj, size int) Obj {
	hdr := o.header()
	hdr.size = size
	hdr.next = h.head
	h.head = o
	h.bytesAllocated += size
	return o
}

// ShouldCollect reports whether bytesAllocated has crossed nextGC, the
// trigger VM.allocate-adjacent call sites check before/after a Track.
func (h *Heap) ShouldCollect() bool {
	return h.GCStress || h.bytesAllocated >= h.nextGC
}

// AfterCollect recomputes nextGC from the post-sweep live set, doubling
// it, so the next cycle doesn't fire again almost immediately after a
// collection that freed little.
func (h *Heap) AfterCollect() {
	h.nextGC = h.bytesAllocated * 2
	if h.nextGC < heapInitialNextGC {
		h.nextGC = heapInitialNextGC
	}
}

// Intern returns the canonical *String for the given bytes, allocating
// and tracking a new one on first sight. Two calls with equal content
// always return the same pointer, which is what lets Value.Equals and
// Table key-hashing treat strings as comparable-by-identity internally.
func (h *Heap) Intern(s string) *String {
	if existing, ok := h.strings[s]; ok {
		return existing
	}
	str := &String{Bytes: []byte(s), Hash: hashBytes([]byte(s))}
	str.kind = ObjString
	h.Track(str, len(s)+32)
	h.strings[s] = str
	return str
}

// BytesAllocated reports the heap's current running total, exposed for
// diagnostics and tests.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }
