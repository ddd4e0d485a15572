package vm

import "sync"

// ---------------------------------------------------------------------------
// WeakRegistry: finalization side table
// ---------------------------------------------------------------------------

// A WeakReference object has one weak slot the collector does not trace.
// When the referent dies the slot is set to nil. The registry below lets Go
// code attach a finalizer to a WeakReference; finalizers run after the
// collection that cleared the reference, with the heap consistent again.
//
// Finalizers must not call back into the VM's public API; they run while
// the VM lock is held.

// Finalizer is called with the WeakReference object whose referent died.
type Finalizer func(ref Value)

// WeakRegistry maps WeakReference objects to finalizers.
type WeakRegistry struct {
	mu   sync.Mutex
	refs map[uint32]weakEntry
}

type weakEntry struct {
	ref       Value
	finalizer Finalizer
}

// NewWeakRegistry creates an empty registry.
func NewWeakRegistry() *WeakRegistry {
	return &WeakRegistry{refs: make(map[uint32]weakEntry)}
}

// Register attaches fn to the WeakReference ref.
func (r *WeakRegistry) Register(ref Value, fn Finalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref.handle()] = weakEntry{ref: ref, finalizer: fn}
}

// Unregister removes any finalizer attached to ref.
func (r *WeakRegistry) Unregister(ref Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if we, ok := r.refs[ref.handle()]; ok && we.ref == ref {
		delete(r.refs, ref.handle())
	}
}

// Count returns the number of registered finalizers.
func (r *WeakRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

// processCleared runs the finalizers of the cleared references and drops
// entries whose WeakReference object itself has been reclaimed. Finalizers
// are run outside the registry lock.
func (r *WeakRegistry) processCleared(h *Heap, cleared []Value) int {
	r.mu.Lock()
	var run []weakEntry
	for _, ref := range cleared {
		if we, ok := r.refs[ref.handle()]; ok && we.ref == ref {
			run = append(run, we)
			delete(r.refs, ref.handle())
		}
	}
	for hd, we := range r.refs {
		if !h.isLive(we.ref) {
			delete(r.refs, hd)
		}
	}
	r.mu.Unlock()

	for _, we := range run {
		if we.finalizer != nil {
			we.finalizer(we.ref)
		}
	}
	return len(run)
}

// ---------------------------------------------------------------------------
// VM surface
// ---------------------------------------------------------------------------

// NewWeakReference creates a WeakReference to target. fn, if non-nil, runs
// once after the collection that clears the reference.
func (vm *VM) NewWeakReference(target Value, fn Finalizer) (Value, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.newWeakReference(target, fn), nil
}

func (vm *VM) newWeakReference(target Value, fn Finalizer) Value {
	mark := vm.heap.pushRoots(target)
	ref := vm.heap.allocate(vm.WeakReferenceClass, FormatWeak, 0, 1, nil, 0)
	vm.heap.popRoots(mark)
	vm.heap.storeRaw(ref, 0, target)
	if fn != nil {
		vm.weak.Register(ref, fn)
	}
	return ref
}

// WeakValue returns the referent of a WeakReference, or nil once collected.
func (vm *VM) WeakValue(ref Value) Value {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	v, err := vm.heap.Fetch(ref, 0)
	if err != nil {
		return Nil
	}
	return v
}
