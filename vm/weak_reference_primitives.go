package vm

// ---------------------------------------------------------------------------
// WeakReference Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerWeakReferencePrimitives() {
	c := vm.WeakReferenceClass

	// WeakReference on: anObject
	vm.classPrimitive(c, "on:", prim1(func(vm *VM, _, target Value) (Value, error) {
		return vm.newWeakReference(target, nil), nil
	}))

	// value - the referent, or nil once it has been collected
	vm.primitive(c, "value", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.heap.Fetch(recv, 0)
	}))

	vm.primitive(c, "isAlive", prim0(func(vm *VM, recv Value) (Value, error) {
		v, err := vm.heap.Fetch(recv, 0)
		return FromBool(v != Nil), err
	}))

	vm.primitive(c, "clear", prim0(func(vm *VM, recv Value) (Value, error) {
		vm.weak.Unregister(recv)
		return recv, vm.heap.Store(recv, 0, Nil)
	}))
}
