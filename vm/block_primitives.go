package vm

// ---------------------------------------------------------------------------
// Block Primitives
// ---------------------------------------------------------------------------

// value and friends link the block's context directly above the caller;
// the loops are bytecode so every iteration is an ordinary block
// activation.
func (vm *VM) registerBlockPrimitives() {
	c := vm.BlockClosureClass

	value := func(vm *VM, recv Value, args []Value) (Value, error) {
		return vm.tailValue(recv, args...)
	}
	vm.primitive(c, "value", value)
	vm.primitive(c, "value:", value)
	vm.primitive(c, "value:value:", value)
	vm.primitive(c, "value:value:value:", value)
	vm.primitive(c, "value:value:value:value:", value)

	vm.primitive(c, "valueWithArguments:", prim1(func(vm *VM, recv, args Value) (Value, error) {
		elems, ok := vm.arrayElements(args)
		if !ok {
			return Nil, invalidArgument("valueWithArguments: expects an Array, got %s", vm.printString(args))
		}
		return vm.tailValue(recv, elems...)
	}))
	vm.primitive(c, "numArgs", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(vm.closureOf(recv).NumArgs())), nil
	}))
	vm.primitive(c, "receiver", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.closureOf(recv).receiver, nil
	}))
	vm.primitive(c, "outerContext", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.closureOf(recv).outer.self, nil
	}))

	// whileTrue: aBlock  [self value] whileTrue: [aBlock value]. ^nil
	conditional := func(selector string, exit Opcode) {
		vm.kernelMethod(c, selector, 0, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
			loop, done := b.NewLabel(), b.NewLabel()
			b.Mark(loop)
			b.Emit(OpPushSelf)
			b.EmitByte(OpSendValue, 0)
			b.EmitJump(exit, done)
			b.EmitByte(OpPushTemp, 0)
			b.EmitByte(OpSendValue, 0)
			b.Emit(OpPOP)
			b.EmitJump(OpJump, loop)
			b.Mark(done)
			b.Emit(OpReturnNil)
		})
	}
	conditional("whileTrue:", OpJumpFalse)
	conditional("whileFalse:", OpJumpTrue)

	// whileTrue  [self value] whileTrue. ^nil
	bare := func(selector string, again Opcode) {
		vm.kernelMethod(c, selector, 0, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
			loop := b.NewLabel()
			b.Mark(loop)
			b.Emit(OpPushSelf)
			b.EmitByte(OpSendValue, 0)
			b.EmitJump(again, loop)
			b.Emit(OpReturnNil)
		})
	}
	bare("whileTrue", OpJumpTrue)
	bare("whileFalse", OpJumpFalse)

	// repeat  [self value] repeat. Only a non-local return leaves it.
	vm.kernelMethod(c, "repeat", 0, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		loop := b.NewLabel()
		b.Mark(loop)
		b.Emit(OpPushSelf)
		b.EmitByte(OpSendValue, 0)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
	})
}
