package vm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Verify checks the structural invariants of the heap and reports every
// violation found. It must not be called while a collection is running.
//
// Checked invariants:
//   - every live object has a class whose class object is live
//   - slots lie inside the owning generation's arena
//   - no slot or native payload references a reclaimed handle
//   - every old object referencing a young object is remembered
func (h *Heap) Verify() error {
	var result *multierror.Error

	check := func(owner uint32, what string, v Value) {
		if !v.IsObject() {
			return
		}
		if !h.isLive(v) {
			result = multierror.Append(result,
				fmt.Errorf("object %d: %s references reclaimed handle %d", owner, what, v.handle()))
		}
	}

	for hd := 1; hd < len(h.table); hd++ {
		e := &h.table[hd]
		if !e.live() {
			continue
		}
		owner := uint32(hd)
		if e.class == nil {
			result = multierror.Append(result, fmt.Errorf("object %d: no class", hd))
		} else {
			check(owner, "class", e.class.object)
		}

		end := int(e.offset + e.size)
		switch e.gen {
		case genYoung:
			if end > h.youngTop {
				result = multierror.Append(result,
					fmt.Errorf("object %d: young slots [%d, %d) beyond top %d", hd, e.offset, end, h.youngTop))
				continue
			}
		case genOld:
			if end > h.oldTop {
				result = multierror.Append(result,
					fmt.Errorf("object %d: old slots [%d, %d) beyond top %d", hd, e.offset, end, h.oldTop))
				continue
			}
		}
		if e.format == FormatBytes && int(e.size) != int(e.named) {
			result = multierror.Append(result, fmt.Errorf("object %d: byte object with indexed pointer slots", hd))
		}

		youngRef := false
		for i, v := range h.slotsOf(e) {
			check(owner, fmt.Sprintf("slot %d", i), v)
			if h.isLive(v) && h.isYoung(v) {
				youngRef = true
			}
		}
		if e.gen == genOld && youngRef && !e.remembered() {
			result = multierror.Append(result, fmt.Errorf("object %d: old object points to young but is not remembered", hd))
		}
		if e.native != nil {
			e.native.trace(func(v Value) { check(owner, "native payload", v) })
		}
	}

	if h.roots != nil {
		h.roots(func(v Value) { check(0, "root", v) })
	}
	return result.ErrorOrNil()
}
