package vm

// ---------------------------------------------------------------------------
// Heap: the object store
// ---------------------------------------------------------------------------

// Heap owns all object storage. Objects are reached through an object table
// of entries; pointer slots live in word arenas, one pair of semispaces for
// the young generation and one growable arena for the old generation. All
// slot reads and writes go through the heap so the collector can move
// storage without touching references.
//
// The heap is not safe for concurrent use; the VM serialises access.
type Heap struct {
	table   []entry
	free    []uint32
	retired int // handles whose serial space is used up

	young      [2][]Value
	cur        int
	youngTop   int
	youngExtra int
	youngWords int

	old      []Value
	oldTop   int
	oldExtra int
	maxOld   int

	tenureAge uint8

	youngHandles []uint32            // live young objects
	remembered   []uint32            // old objects that may point into young
	oldNatives   map[uint32]struct{} // old contexts, closures and classes
	weakHandles  map[uint32]struct{} // objects with weak slots

	tempRoots []Value

	roots      func(visit func(Value))
	afterGC    func(cleared []Value)
	verify     bool
	collecting bool

	stats GCStats
}

// HeapConfig sizes a heap. Sizes are in words (one Value).
type HeapConfig struct {
	YoungWords  int
	OldWords    int
	MaxOldWords int
	TenureAge   int
	VerifyHeap  bool
}

// NewHeap creates a heap. roots enumerates every strong root outside the
// heap; it is called at the start of each collection.
func NewHeap(cfg HeapConfig, roots func(visit func(Value))) *Heap {
	if cfg.MaxOldWords < cfg.OldWords {
		cfg.MaxOldWords = cfg.OldWords
	}
	if cfg.TenureAge < 1 {
		cfg.TenureAge = 1
	}
	if cfg.TenureAge > 255 {
		cfg.TenureAge = 255
	}
	h := &Heap{
		table:       make([]entry, 1, 4096), // handle 0 is never valid
		youngWords:  cfg.YoungWords,
		old:         make([]Value, cfg.OldWords),
		maxOld:      cfg.MaxOldWords,
		tenureAge:   uint8(cfg.TenureAge),
		oldNatives:  make(map[uint32]struct{}),
		weakHandles: make(map[uint32]struct{}),
		roots:       roots,
		verify:      cfg.VerifyHeap,
	}
	h.young[0] = make([]Value, cfg.YoungWords)
	h.young[1] = make([]Value, cfg.YoungWords)
	return h
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// allocate creates an object with all pointer slots nil. For FormatBytes,
// indexed is the byte count. Values reachable only through native must be
// rooted by the caller, since allocation may collect.
func (h *Heap) allocate(class *Class, format Format, named, indexed int, native tracer, nativeWords int) Value {
	return h.alloc(class, format, named, indexed, native, nativeWords, false)
}

// allocateOld allocates directly in the old generation. Classes and
// literals, which live for the whole session, are created this way.
func (h *Heap) allocateOld(class *Class, format Format, named, indexed int, native tracer, nativeWords int) Value {
	return h.alloc(class, format, named, indexed, native, nativeWords, true)
}

func (h *Heap) alloc(class *Class, format Format, named, indexed int, native tracer, nativeWords int, tenured bool) Value {
	slots := named
	nbytes := 0
	if format == FormatBytes {
		nbytes = indexed
	} else {
		slots += indexed
	}
	extra := headerWords + int(bytesWords(nbytes)) + nativeWords
	need := slots + extra

	gen := genYoung
	if tenured || need > h.youngWords/2 {
		gen = genOld
	} else if !h.youngFits(need) {
		h.minorGC()
		if !h.youngFits(need) {
			gen = genOld
		}
	}

	var offset int
	if gen == genYoung {
		offset = h.youngTop
		space := h.young[h.cur]
		for i := offset; i < offset+slots; i++ {
			space[i] = Nil
		}
		h.youngTop += slots
		h.youngExtra += extra
	} else {
		h.ensureOld(need)
		offset = h.oldTop
		for i := offset; i < offset+slots; i++ {
			h.old[i] = Nil
		}
		h.oldTop += slots
		h.oldExtra += extra
	}

	hd := h.newHandle()
	e := &h.table[hd]
	e.class = class
	e.native = native
	e.offset = uint32(offset)
	e.size = uint32(slots)
	e.named = uint32(named)
	e.extra = uint32(extra)
	e.format = format
	e.gen = gen
	e.age = 0
	e.flags = 0
	if nbytes > 0 {
		e.bytes = make([]byte, nbytes)
	}

	switch gen {
	case genYoung:
		h.youngHandles = append(h.youngHandles, hd)
	case genOld:
		if native != nil {
			h.oldNatives[hd] = struct{}{}
		}
		// Freshly pretenured objects hold only nil, nothing to remember.
	}
	if format == FormatWeak {
		h.weakHandles[hd] = struct{}{}
	}
	return fromHandle(hd, e.serial)
}

func (h *Heap) youngFits(words int) bool {
	return h.youngTop+h.youngExtra+words <= h.youngWords
}

func (h *Heap) oldUsed() int { return h.oldTop + h.oldExtra }

func (h *Heap) oldFits(words int) bool {
	return h.oldUsed()+words <= len(h.old)
}

// ensureOld makes room for words in the old generation: first by a full
// collection, then by growing the arena up to its limit.
func (h *Heap) ensureOld(words int) {
	if h.oldFits(words) {
		return
	}
	h.majorGC()
	if h.oldFits(words) {
		return
	}
	h.growOld(h.oldUsed() + words)
}

func (h *Heap) growOld(want int) {
	if want > h.maxOld {
		fatal(FatalOutOfMemory, "old generation needs %d words, limit is %d", want, h.maxOld)
	}
	size := len(h.old) * 2
	if size < want {
		size = want
	}
	if size > h.maxOld {
		size = h.maxOld
	}
	grown := make([]Value, size)
	copy(grown, h.old[:h.oldTop])
	h.old = grown
	gcLog.Debugf("old generation grown to %d words", size)
}

func (h *Heap) newHandle() uint32 {
	if n := len(h.free); n > 0 {
		hd := h.free[n-1]
		h.free = h.free[:n-1]
		return hd
	}
	if uint64(len(h.table)) > uint64(handleMask) {
		fatal(FatalOutOfMemory, "object table exhausted")
	}
	h.table = append(h.table, entry{})
	return uint32(len(h.table) - 1)
}

// release returns an entry to the free list. The serial bump makes every
// outstanding reference to it detectably stale. A handle whose serial would
// wrap is retired instead, so a serial is never handed out twice.
func (h *Heap) release(hd uint32) {
	e := &h.table[hd]
	last := e.serial == maxSerial
	serial := e.serial + 1
	if last {
		serial = maxSerial
	}
	*e = entry{serial: serial}
	delete(h.oldNatives, hd)
	delete(h.weakHandles, hd)
	if last {
		h.retired++
		return
	}
	h.free = append(h.free, hd)
}

// ---------------------------------------------------------------------------
// Entry access
// ---------------------------------------------------------------------------

// entryOf resolves an object reference. A reference to a reclaimed or
// reused handle means the graph is corrupt. The pointer is only valid until
// the next allocation.
func (h *Heap) entryOf(v Value) *entry {
	hd := v.handle()
	if hd == 0 || int(hd) >= len(h.table) {
		fatal(FatalHeapCorruption, "reference to unknown handle %d", hd)
	}
	e := &h.table[hd]
	if !e.live() || e.serial != v.serial() {
		fatal(FatalHeapCorruption, "reference to reclaimed storage (handle %d)", hd)
	}
	return e
}

// isLive reports whether v still refers to a live object.
func (h *Heap) isLive(v Value) bool {
	if !v.IsObject() {
		return true
	}
	hd := v.handle()
	if hd == 0 || int(hd) >= len(h.table) {
		return false
	}
	e := &h.table[hd]
	return e.live() && e.serial == v.serial()
}

func (h *Heap) slotsOf(e *entry) []Value {
	switch e.gen {
	case genYoung:
		return h.young[h.cur][e.offset : e.offset+e.size]
	case genOld:
		return h.old[e.offset : e.offset+e.size]
	}
	return nil
}

func (h *Heap) isYoung(v Value) bool {
	return v.IsObject() && h.table[v.handle()].gen == genYoung
}

// native returns the Go payload of a native object, or nil.
func (h *Heap) native(v Value) tracer {
	if !v.IsObject() {
		return nil
	}
	return h.entryOf(v).native
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// Fetch reads pointer slot i (0-based over named then indexed slots).
func (h *Heap) Fetch(v Value, i int) (Value, error) {
	e := h.entryOf(v)
	if i < 0 || i >= int(e.size) {
		return Nil, indexOutOfRange(i+1, int(e.size))
	}
	return h.slotsOf(e)[i], nil
}

// Store writes pointer slot i, applying the generational write barrier.
func (h *Heap) Store(v Value, i int, x Value) error {
	e := h.entryOf(v)
	if e.immutable() {
		return immutableObject(v)
	}
	if i < 0 || i >= int(e.size) {
		return indexOutOfRange(i+1, int(e.size))
	}
	h.slotsOf(e)[i] = x
	h.barrier(v.handle(), e, x)
	return nil
}

// storeRaw writes a slot bypassing the immutability check. Used while
// building literals and during migration.
func (h *Heap) storeRaw(v Value, i int, x Value) {
	e := h.entryOf(v)
	h.slotsOf(e)[i] = x
	h.barrier(v.handle(), e, x)
}

// barrier records an old object that now references a young one.
func (h *Heap) barrier(hd uint32, e *entry, x Value) {
	if e.gen != genOld || e.remembered() || !h.isYoung(x) {
		return
	}
	e.setFlag(flagRemembered)
	h.remembered = append(h.remembered, hd)
}

// FetchByte reads byte i of a byte object.
func (h *Heap) FetchByte(v Value, i int) (byte, error) {
	e := h.entryOf(v)
	if i < 0 || i >= len(e.bytes) {
		return 0, indexOutOfRange(i+1, len(e.bytes))
	}
	return e.bytes[i], nil
}

// StoreByte writes byte i of a byte object.
func (h *Heap) StoreByte(v Value, i int, b byte) error {
	e := h.entryOf(v)
	if e.immutable() {
		return immutableObject(v)
	}
	if i < 0 || i >= len(e.bytes) {
		return indexOutOfRange(i+1, len(e.bytes))
	}
	e.bytes[i] = b
	return nil
}

// Bytes returns the byte payload of v. The slice aliases heap storage.
func (h *Heap) Bytes(v Value) []byte {
	return h.entryOf(v).bytes
}

// Size returns the number of pointer slots of v.
func (h *Heap) Size(v Value) int { return int(h.entryOf(v).size) }

// NamedSize returns the number of named instance variables of v.
func (h *Heap) NamedSize(v Value) int { return int(h.entryOf(v).named) }

// IndexedSize returns the number of indexed elements of v.
func (h *Heap) IndexedSize(v Value) int { return h.entryOf(v).indexedSize() }

// FormatOf returns the storage format of v.
func (h *Heap) FormatOf(v Value) Format { return h.entryOf(v).format }

// ClassOf returns the class recorded for a heap object.
func (h *Heap) ClassOf(v Value) *Class { return h.entryOf(v).class }

// BeImmutable marks v read-only.
func (h *Heap) BeImmutable(v Value) {
	if v.IsObject() {
		h.entryOf(v).setFlag(flagImmutable)
	}
}

// IsImmutable reports whether writes to v are rejected. Immediates are
// always immutable.
func (h *Heap) IsImmutable(v Value) bool {
	if !v.IsObject() {
		return true
	}
	return h.entryOf(v).immutable()
}

// IdentityHash answers a hash that is stable for the object's lifetime.
// Objects never move in the table, so the handle serves.
func (h *Heap) IdentityHash(v Value) int64 {
	if !v.IsObject() {
		return int64(uint64(v) & uint64(MaxSmallInt))
	}
	h.entryOf(v)
	return int64(v.handle())<<8 | int64(v.serial()&0xFF)
}

// IsOld reports whether v has been tenured.
func (h *Heap) IsOld(v Value) bool {
	return v.IsObject() && h.entryOf(v).gen == genOld
}

// ---------------------------------------------------------------------------
// Temporary roots
// ---------------------------------------------------------------------------

// pushRoots protects values held only by Go code across allocations. It
// returns a mark for popRoots.
func (h *Heap) pushRoots(vs ...Value) int {
	mark := len(h.tempRoots)
	h.tempRoots = append(h.tempRoots, vs...)
	return mark
}

func (h *Heap) popRoots(mark int) {
	for i := mark; i < len(h.tempRoots); i++ {
		h.tempRoots[i] = Nil
	}
	h.tempRoots = h.tempRoots[:mark]
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

// scan visits every strong reference held by the object at hd: its class
// object, its traced slots and its native payload.
func (h *Heap) scan(hd uint32, visit func(Value)) {
	e := &h.table[hd]
	if e.class != nil && e.class.object.IsObject() {
		visit(e.class.object)
	}
	slots := h.slotsOf(e)
	for i, v := range slots {
		if v.IsObject() && e.traced(uint32(i)) {
			visit(v)
		}
	}
	if e.native != nil {
		e.native.trace(visit)
	}
}

// hasYoungRef reports whether any slot of hd references the young
// generation.
func (h *Heap) hasYoungRef(hd uint32) bool {
	e := &h.table[hd]
	for _, v := range h.slotsOf(e) {
		if h.isYoung(v) {
			return true
		}
	}
	return false
}

// liveObjects counts allocated entries.
func (h *Heap) liveObjects() int {
	return len(h.table) - 1 - len(h.free) - h.retired
}

// instancesOf returns every live object whose class is exactly c.
func (h *Heap) instancesOf(c *Class) []Value {
	var out []Value
	for hd := 1; hd < len(h.table); hd++ {
		e := &h.table[hd]
		if e.live() && e.class == c {
			out = append(out, fromHandle(uint32(hd), e.serial))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Reshaping
// ---------------------------------------------------------------------------

// reshape gives v a new named-slot layout in place: slot i of the new layout
// takes old named slot layout[i], or nil when layout[i] is -1. Indexed
// slots follow unchanged. The object keeps its handle, so every reference
// to it stays valid; its storage moves to the old generation. The caller
// must have reserved room with ensureOld.
func (h *Heap) reshape(v Value, layout []int) {
	e := h.entryOf(v)
	hd := v.handle()
	oldSlots := h.slotsOf(e)
	named := int(e.named)
	indexed := int(e.size) - named

	size := len(layout) + indexed
	if !h.oldFits(size + int(e.extra)) {
		fatal(FatalOutOfMemory, "no room to migrate object %d", hd)
	}
	off := h.oldTop
	dst := h.old[off : off+size]
	for i, from := range layout {
		if from >= 0 && from < named {
			dst[i] = oldSlots[from]
		} else {
			dst[i] = Nil
		}
	}
	copy(dst[len(layout):], oldSlots[named:])
	// The abandoned copy must not keep anything alive.
	for i := range oldSlots {
		oldSlots[i] = Nil
	}

	if e.gen == genYoung {
		h.youngExtra -= int(e.extra)
		for i, y := range h.youngHandles {
			if y == hd {
				h.youngHandles = append(h.youngHandles[:i], h.youngHandles[i+1:]...)
				break
			}
		}
		if e.native != nil {
			h.oldNatives[hd] = struct{}{}
		}
	}
	h.oldTop += size
	h.oldExtra += int(e.extra)
	e.gen = genOld
	e.offset = uint32(off)
	e.size = uint32(size)
	e.named = uint32(len(layout))

	e.clearFlag(flagRemembered)
	if h.hasYoungRef(hd) {
		e.setFlag(flagRemembered)
		h.remembered = append(h.remembered, hd)
	}
}
