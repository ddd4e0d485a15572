package vm

// ---------------------------------------------------------------------------
// Array Primitives
// ---------------------------------------------------------------------------

// Array and ByteArray use the indexed access of Object (at:, at:put:,
// size). Iteration is bytecode over those sends.
func (vm *VM) registerArrayPrimitives() {
	c := vm.ArrayClass

	vm.classPrimitive(c, "with:", prim1(func(vm *VM, _, a Value) (Value, error) {
		return vm.newArray([]Value{a}), nil
	}))
	vm.classPrimitive(c, "with:with:", prim2(func(vm *VM, _, a, b Value) (Value, error) {
		return vm.newArray([]Value{a, b}), nil
	}))
	vm.classPrimitive(c, "with:with:with:", func(vm *VM, _ Value, args []Value) (Value, error) {
		return vm.newArray(append([]Value(nil), args...)), nil
	})

	vm.registerSequenceLoops(c)
	vm.registerSequenceLoops(vm.ByteArrayClass)

	// collect: aBlock  | result i |
	//   result := self class new: self size.
	//   i := 1. [i <= self size] whileTrue: [result at: i put: (aBlock value: (self at: i)). i := i + 1].
	//   ^result
	vm.kernelMethod(c, "collect:", 2, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		class := m.AddSymbol(vm.Symbols, "class")
		size := m.AddSymbol(vm.Symbols, "size")
		newSize := m.AddSymbol(vm.Symbols, "new:")
		at := m.AddSymbol(vm.Symbols, "at:")
		atPut := m.AddSymbol(vm.Symbols, "at:put:")
		loop, done := b.NewLabel(), b.NewLabel()

		b.Emit(OpPushSelf)
		b.EmitUint16(OpSendUnary, class)
		b.Emit(OpPushSelf)
		b.EmitUint16(OpSendUnary, size)
		b.EmitSend(OpSendKeyword, newSize, 1)
		b.EmitByte(OpStoreTemp, 1)
		b.Emit(OpPOP)
		b.EmitPushInt(1)
		b.EmitByte(OpStoreTemp, 2)
		b.Emit(OpPOP)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 2)
		b.Emit(OpPushSelf)
		b.EmitUint16(OpSendUnary, size)
		b.Emit(OpSendLE)
		b.EmitJump(OpJumpFalse, done)
		b.EmitByte(OpPushTemp, 1)
		b.EmitByte(OpPushTemp, 2)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpPushSelf)
		b.EmitByte(OpPushTemp, 2)
		b.EmitSend(OpSendKeyword, at, 1)
		b.EmitByte(OpSendValue, 1)
		b.EmitSend(OpSendKeyword, atPut, 2)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 2)
		b.EmitPushInt(1)
		b.Emit(OpSendAdd)
		b.EmitByte(OpStoreTemp, 2)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
		b.Mark(done)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpReturnTop)
	})
}

// registerSequenceLoops installs do: on an indexable class.
func (vm *VM) registerSequenceLoops(c *Class) {
	// do: aBlock  | i |  i := 1. [i <= self size] whileTrue: [aBlock value: (self at: i). i := i + 1]
	vm.kernelMethod(c, "do:", 1, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		size := m.AddSymbol(vm.Symbols, "size")
		at := m.AddSymbol(vm.Symbols, "at:")
		loop, done := b.NewLabel(), b.NewLabel()

		b.EmitPushInt(1)
		b.EmitByte(OpStoreTemp, 1)
		b.Emit(OpPOP)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpPushSelf)
		b.EmitUint16(OpSendUnary, size)
		b.Emit(OpSendLE)
		b.EmitJump(OpJumpFalse, done)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpPushSelf)
		b.EmitByte(OpPushTemp, 1)
		b.EmitSend(OpSendKeyword, at, 1)
		b.EmitByte(OpSendValue, 1)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 1)
		b.EmitPushInt(1)
		b.Emit(OpSendAdd)
		b.EmitByte(OpStoreTemp, 1)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
		b.Mark(done)
		b.Emit(OpReturnSelf)
	})
}
