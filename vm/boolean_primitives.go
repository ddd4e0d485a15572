package vm

// ---------------------------------------------------------------------------
// Boolean Primitives (True, False)
// ---------------------------------------------------------------------------

// Conditionals evaluate their block argument in place of the primitive, so
// a non-local return inside the block leaves through the caller's chain.
func (vm *VM) registerBooleanPrimitives() {
	t, f := vm.TrueClass, vm.FalseClass

	// True class
	vm.primitive(t, "not", prim0(func(vm *VM, _ Value) (Value, error) {
		return False, nil
	}))
	vm.primitive(t, "&", prim1(func(vm *VM, _, arg Value) (Value, error) {
		return arg, nil
	}))
	vm.primitive(t, "|", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return True, nil
	}))
	vm.primitive(t, "and:", prim1(func(vm *VM, _, block Value) (Value, error) {
		return vm.tailValue(block)
	}))
	vm.primitive(t, "or:", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return True, nil
	}))
	vm.primitive(t, "ifTrue:", prim1(func(vm *VM, _, block Value) (Value, error) {
		return vm.tailValue(block)
	}))
	vm.primitive(t, "ifFalse:", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return Nil, nil
	}))
	vm.primitive(t, "ifTrue:ifFalse:", prim2(func(vm *VM, _, trueBlock, _ Value) (Value, error) {
		return vm.tailValue(trueBlock)
	}))
	vm.primitive(t, "ifFalse:ifTrue:", prim2(func(vm *VM, _, _, trueBlock Value) (Value, error) {
		return vm.tailValue(trueBlock)
	}))

	// False class
	vm.primitive(f, "not", prim0(func(vm *VM, _ Value) (Value, error) {
		return True, nil
	}))
	vm.primitive(f, "&", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return False, nil
	}))
	vm.primitive(f, "|", prim1(func(vm *VM, _, arg Value) (Value, error) {
		return arg, nil
	}))
	vm.primitive(f, "and:", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return False, nil
	}))
	vm.primitive(f, "or:", prim1(func(vm *VM, _, block Value) (Value, error) {
		return vm.tailValue(block)
	}))
	vm.primitive(f, "ifTrue:", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return Nil, nil
	}))
	vm.primitive(f, "ifFalse:", prim1(func(vm *VM, _, block Value) (Value, error) {
		return vm.tailValue(block)
	}))
	vm.primitive(f, "ifTrue:ifFalse:", prim2(func(vm *VM, _, _, falseBlock Value) (Value, error) {
		return vm.tailValue(falseBlock)
	}))
	vm.primitive(f, "ifFalse:ifTrue:", prim2(func(vm *VM, _, falseBlock, _ Value) (Value, error) {
		return vm.tailValue(falseBlock)
	}))

	// Shared by both: xor: and eqv: need a Boolean argument.
	b := vm.BooleanClass
	vm.primitive(b, "xor:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		if !arg.IsBool() {
			return Nil, invalidArgument("xor: expects a Boolean, got %s", vm.printString(arg))
		}
		return FromBool(recv != arg), nil
	}))
	vm.primitive(b, "eqv:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		if !arg.IsBool() {
			return Nil, invalidArgument("eqv: expects a Boolean, got %s", vm.printString(arg))
		}
		return FromBool(recv == arg), nil
	}))
}
