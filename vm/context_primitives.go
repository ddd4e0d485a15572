package vm

// ---------------------------------------------------------------------------
// Context Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerContextPrimitives() {
	c := vm.ContextClass

	vm.primitive(c, "sender", prim0(func(vm *VM, recv Value) (Value, error) {
		if s := vm.contextOf(recv).sender; s != nil {
			return s.self, nil
		}
		return Nil, nil
	}))
	vm.primitive(c, "receiver", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.contextOf(recv).receiver, nil
	}))
	vm.primitive(c, "home", prim0(func(vm *VM, recv Value) (Value, error) {
		if h := vm.contextOf(recv).home; h != nil {
			return h.self, nil
		}
		return Nil, nil
	}))
	vm.primitive(c, "selector", prim0(func(vm *VM, recv Value) (Value, error) {
		ctx := vm.contextOf(recv)
		if ctx.method == nil {
			return Nil, nil
		}
		return vm.Symbols.Value(ctx.method.Name), nil
	}))
	vm.primitive(c, "isDead", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(vm.contextOf(recv).dead), nil
	}))
	vm.primitive(c, "isBlockContext", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(vm.contextOf(recv).isBlock()), nil
	}))
	vm.primitive(c, "pc", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(vm.contextOf(recv).pc)), nil
	}))
	vm.primitive(c, "tempAt:", prim1(func(vm *VM, recv, index Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		temps := vm.contextOf(recv).temps
		if idx < 1 || idx > len(temps) {
			return Nil, indexOutOfRange(idx, len(temps))
		}
		return temps[idx-1], nil
	}))
}
