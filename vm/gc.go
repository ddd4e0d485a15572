package vm

import (
	"sort"
	"time"
)

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// GCStats reports collector activity since the heap was created.
type GCStats struct {
	MinorCollections int
	MajorCollections int
	Promoted         uint64 // objects tenured into the old generation
	Reclaimed        uint64 // objects freed
	WeakCleared      uint64 // weak slots set to nil
	YoungWordsUsed   int
	OldWordsUsed     int
	OldWordsCapacity int
	LiveObjects      int
	LastPause        time.Duration
	TotalPause       time.Duration
}

// Stats returns a snapshot of collector statistics.
func (h *Heap) Stats() GCStats {
	s := h.stats
	s.YoungWordsUsed = h.youngTop + h.youngExtra
	s.OldWordsUsed = h.oldUsed()
	s.OldWordsCapacity = len(h.old)
	s.LiveObjects = h.liveObjects()
	return s
}

func (h *Heap) enterGC() {
	if h.collecting {
		fatal(FatalInterpreter, "collection requested while collecting")
	}
	h.collecting = true
}

func (h *Heap) leaveGC(start time.Time, cleared []Value) {
	pause := time.Since(start)
	h.stats.LastPause = pause
	h.stats.TotalPause += pause
	h.collecting = false

	if h.verify {
		if err := h.Verify(); err != nil {
			fatal(FatalHeapCorruption, "heap verification failed after collection: %v", err)
		}
	}
	if h.afterGC != nil {
		h.afterGC(cleared)
	}
}

// ---------------------------------------------------------------------------
// Minor collection
// ---------------------------------------------------------------------------

// minorGC copies the live young generation into the spare semispace,
// Cheney style, promoting objects that have survived tenureAge collections.
// Roots are the VM roots, the remembered set and every old native object.
func (h *Heap) minorGC() {
	h.enterGC()
	start := time.Now()

	from := h.young[h.cur]
	to := h.young[1-h.cur]
	toTop := 0
	var queue, promoted []uint32

	evacuate := func(v Value) {
		if !v.IsObject() {
			return
		}
		e := h.entryOf(v)
		if e.gen != genYoung || e.marked() {
			return
		}
		e.setFlag(flagMarked)
		hd := v.handle()
		src := from[e.offset : e.offset+e.size]
		if e.age+1 >= h.tenureAge && h.oldFits(int(e.size+e.extra)) {
			off := h.oldTop
			copy(h.old[off:], src)
			h.oldTop += int(e.size)
			h.oldExtra += int(e.extra)
			e.offset = uint32(off)
			e.gen = genOld
			promoted = append(promoted, hd)
		} else {
			copy(to[toTop:], src)
			e.offset = uint32(toTop)
			toTop += int(e.size)
			e.age++
		}
		queue = append(queue, hd)
	}

	h.roots(evacuate)
	for _, v := range h.tempRoots {
		evacuate(v)
	}
	for _, hd := range h.remembered {
		h.scanIn(hd, from, to, evacuate)
	}
	for hd := range h.oldNatives {
		h.scanIn(hd, from, to, evacuate)
	}
	for q := 0; q < len(queue); q++ {
		h.scanIn(queue[q], from, to, evacuate)
	}

	// Weak slots pointing at young objects that were not evacuated die now.
	var cleared []Value
	for wh := range h.weakHandles {
		e := &h.table[wh]
		if e.gen == genYoung && !e.marked() {
			continue
		}
		slots := h.slotsIn(e, from, to)
		for i := e.named; i < e.size; i++ {
			x := slots[i]
			if !x.IsObject() {
				continue
			}
			xe := &h.table[x.handle()]
			if xe.gen == genYoung && !xe.marked() {
				slots[i] = Nil
				cleared = append(cleared, fromHandle(wh, e.serial))
				h.stats.WeakCleared++
			}
		}
	}

	survivors := h.youngHandles[:0]
	extra := 0
	for _, hd := range h.youngHandles {
		e := &h.table[hd]
		if !e.marked() {
			h.release(hd)
			h.stats.Reclaimed++
			continue
		}
		e.clearFlag(flagMarked)
		if e.gen == genYoung {
			survivors = append(survivors, hd)
			extra += int(e.extra)
		}
	}
	h.youngHandles = survivors

	for _, hd := range promoted {
		e := &h.table[hd]
		if e.native != nil {
			h.oldNatives[hd] = struct{}{}
		}
		h.stats.Promoted++
	}

	h.cur = 1 - h.cur
	h.youngTop = toTop
	h.youngExtra = extra
	for i := range from {
		from[i] = Nil
	}

	h.rebuildRemembered(append(h.remembered, promoted...))
	h.stats.MinorCollections++
	gcLog.Debugf("minor collection: %d survivors, %d promoted, %d young words in use",
		len(survivors), len(promoted), h.youngTop+h.youngExtra)
	h.leaveGC(start, cleared)
}

// slotsIn returns the slots of e while a minor collection is in flight:
// young objects already evacuated live in to, the rest still in from.
func (h *Heap) slotsIn(e *entry, from, to []Value) []Value {
	switch {
	case e.gen == genOld:
		return h.old[e.offset : e.offset+e.size]
	case e.marked():
		return to[e.offset : e.offset+e.size]
	default:
		return from[e.offset : e.offset+e.size]
	}
}

func (h *Heap) scanIn(hd uint32, from, to []Value, visit func(Value)) {
	e := &h.table[hd]
	if !e.live() {
		return
	}
	if e.class != nil && e.class.object.IsObject() {
		visit(e.class.object)
	}
	for i, v := range h.slotsIn(e, from, to) {
		if v.IsObject() && e.traced(uint32(i)) {
			visit(v)
		}
	}
	if e.native != nil {
		e.native.trace(visit)
	}
}

// rebuildRemembered keeps the candidates that still point into the young
// generation and clears the flag on the rest.
func (h *Heap) rebuildRemembered(candidates []uint32) {
	for _, hd := range candidates {
		h.table[hd].clearFlag(flagRemembered)
	}
	var kept []uint32
	for _, hd := range candidates {
		e := &h.table[hd]
		if !e.live() || e.gen != genOld || e.remembered() {
			continue
		}
		if h.hasYoungRef(hd) {
			e.setFlag(flagRemembered)
			kept = append(kept, hd)
		}
	}
	h.remembered = kept
}

// ---------------------------------------------------------------------------
// Major collection
// ---------------------------------------------------------------------------

// majorGC marks from the roots across both generations, sweeps, slides the
// old arena down in address order and tenures young survivors where room
// allows.
func (h *Heap) majorGC() {
	h.enterGC()
	start := time.Now()

	var stack []uint32
	mark := func(v Value) {
		if !v.IsObject() {
			return
		}
		e := h.entryOf(v)
		if e.marked() {
			return
		}
		e.setFlag(flagMarked)
		stack = append(stack, v.handle())
	}
	h.roots(mark)
	for _, v := range h.tempRoots {
		mark(v)
	}
	for len(stack) > 0 {
		hd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h.scan(hd, mark)
	}

	var cleared []Value
	for wh := range h.weakHandles {
		e := &h.table[wh]
		if !e.marked() {
			continue
		}
		slots := h.slotsOf(e)
		for i := e.named; i < e.size; i++ {
			x := slots[i]
			if x.IsObject() && !h.table[x.handle()].marked() {
				slots[i] = Nil
				cleared = append(cleared, fromHandle(wh, e.serial))
				h.stats.WeakCleared++
			}
		}
	}

	var oldLive, youngLive []uint32
	for hd := 1; hd < len(h.table); hd++ {
		e := &h.table[hd]
		if !e.live() {
			continue
		}
		if !e.marked() {
			h.release(uint32(hd))
			h.stats.Reclaimed++
			continue
		}
		e.clearFlag(flagMarked)
		if e.gen == genOld {
			oldLive = append(oldLive, uint32(hd))
		} else {
			youngLive = append(youngLive, uint32(hd))
		}
	}

	// Slide the old arena down. Sorting by offset guarantees every move is
	// towards lower addresses, so copy never clobbers unmoved data.
	sort.Slice(oldLive, func(a, b int) bool {
		return h.table[oldLive[a]].offset < h.table[oldLive[b]].offset
	})
	top, extra := 0, 0
	for _, hd := range oldLive {
		e := &h.table[hd]
		copy(h.old[top:], h.old[e.offset:e.offset+e.size])
		e.offset = uint32(top)
		top += int(e.size)
		extra += int(e.extra)
	}
	for i := top; i < h.oldTop; i++ {
		h.old[i] = Nil
	}
	h.oldTop = top
	h.oldExtra = extra

	// Tenure young survivors, compacting whatever does not fit.
	from := h.young[h.cur]
	to := h.young[1-h.cur]
	toTop, youngExtra := 0, 0
	survivors := h.youngHandles[:0]
	tenured := oldLive
	for _, hd := range youngLive {
		e := &h.table[hd]
		src := from[e.offset : e.offset+e.size]
		if h.oldFits(int(e.size + e.extra)) {
			copy(h.old[h.oldTop:], src)
			e.offset = uint32(h.oldTop)
			e.gen = genOld
			h.oldTop += int(e.size)
			h.oldExtra += int(e.extra)
			if e.native != nil {
				h.oldNatives[hd] = struct{}{}
			}
			h.stats.Promoted++
			tenured = append(tenured, hd)
			continue
		}
		copy(to[toTop:], src)
		e.offset = uint32(toTop)
		e.age++
		toTop += int(e.size)
		youngExtra += int(e.extra)
		survivors = append(survivors, hd)
	}
	for i := range from {
		from[i] = Nil
	}
	h.cur = 1 - h.cur
	h.youngTop = toTop
	h.youngExtra = youngExtra
	h.youngHandles = survivors

	h.rebuildRemembered(tenured)

	h.stats.MajorCollections++
	gcLog.Debugf("major collection: %d old objects, %d young, %d old words in use",
		len(oldLive), len(survivors), h.oldUsed())
	h.leaveGC(start, cleared)
}
