package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosureOutlivesItsFrame(t *testing.T) {
	vm := NewVMWithOptions(Options{VerifyHeap: true})
	// makeCounter  | n | n := 0. ^[n := n + 1]
	mustInstall(t, vm, vm.ObjectClass, assemble("makeCounter", 1, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.EmitInt8(OpPushInt8, 1)
			bb.Emit(OpSendAdd)
			bb.EmitBytes2(OpStoreOuterTemp, 1, 0)
		})
		b.Emit(OpReturnTop)
	}))

	first := mustSend(t, vm, Nil, "makeCounter")
	vm.AddRoot(first)
	second := mustSend(t, vm, Nil, "makeCounter")
	vm.AddRoot(second)

	for k := int64(1); k <= 3; k++ {
		wantInt(t, mustSend(t, vm, first, "value"), k)
		vm.CollectYoung()
	}
	vm.Collect()
	wantInt(t, mustSend(t, vm, first, "value"), 4)
	wantInt(t, mustSend(t, vm, second, "value"), 1)

	outer := mustSend(t, vm, first, "outerContext")
	if mustSend(t, vm, outer, "isDead") != True {
		t.Error("the frame that created the block has returned")
	}
}

func TestBlockArgumentsAndTemps(t *testing.T) {
	vm := NewVM()
	// ^[:a :b | | c | c := a * b. c + 1] value: 3 value: 4
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 2, 1, func(bb *BytecodeBuilder) {
			bb.EmitByte(OpPushTemp, 0)
			bb.EmitByte(OpPushTemp, 1)
			bb.Emit(OpSendMul)
			bb.EmitByte(OpStoreTemp, 2)
			bb.Emit(OpPOP)
			bb.EmitByte(OpPushTemp, 2)
			bb.EmitInt8(OpPushInt8, 1)
			bb.Emit(OpSendAdd)
		})
		b.EmitInt8(OpPushInt8, 3)
		b.EmitInt8(OpPushInt8, 4)
		b.EmitByte(OpSendValue, 2)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 13)
}

func TestBlockValueSends(t *testing.T) {
	vm := NewVM()
	// [:x | x negated]
	blk := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 1, 0, func(bb *BytecodeBuilder) {
			bb.EmitByte(OpPushTemp, 0)
			bb.EmitUint16(OpSendUnary, m.AddSymbol(vm.Symbols, "negated"))
		})
		b.Emit(OpReturnTop)
	})
	vm.AddRoot(blk)
	wantInt(t, mustSend(t, vm, blk, "value:", FromSmallInt(4)), -4)
	wantInt(t, mustSend(t, vm, blk, "numArgs"), 1)
	wantInt(t, mustSend(t, vm, blk, "valueWithArguments:", vm.NewArray(FromSmallInt(6))), -6)

	_, err := vm.Send(blk, "value")
	wantUnhandled(t, err, "WrongArgumentCount")
	_, err = vm.Send(blk, "value:value:", FromSmallInt(1), FromSmallInt(2))
	wantUnhandled(t, err, "WrongArgumentCount")
}

func TestNestedBlocksReachOuterScopes(t *testing.T) {
	vm := NewVM()
	// | a | a := 40. ^[[a + 2] value] value
	v := mustDoIt(t, vm, 1, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 40)
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			block(m, bb, 0, 0, func(inner *BytecodeBuilder) {
				inner.EmitBytes2(OpPushOuterTemp, 2, 0)
				inner.EmitInt8(OpPushInt8, 2)
				inner.Emit(OpSendAdd)
			})
			bb.EmitByte(OpSendValue, 0)
		})
		b.EmitByte(OpSendValue, 0)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 42)
}

func TestBlockReceiverIsSelf(t *testing.T) {
	vm := NewVM()
	mustInstall(t, vm, vm.IntegerClass, assemble("selfBlock", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) { bb.Emit(OpPushSelf) })
		b.Emit(OpReturnTop)
	}))
	blk := mustSend(t, vm, FromSmallInt(17), "selfBlock")
	wantInt(t, mustSend(t, vm, blk, "value"), 17)
	wantInt(t, mustSend(t, vm, blk, "receiver"), 17)
}

// ---------------------------------------------------------------------------
// Non-local return
// ---------------------------------------------------------------------------

func TestNonLocalReturnFromLoop(t *testing.T) {
	vm := NewVM()
	// firstOver: limit  1 to: 100 do: [:i | i > limit ifTrue: [^i]]. ^nil
	mustInstall(t, vm, vm.ObjectClass, assemble("firstOver:", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 1)
		b.EmitInt8(OpPushInt8, 100)
		block(m, b, 1, 0, func(bb *BytecodeBuilder) {
			skip := bb.NewLabel()
			bb.EmitByte(OpPushTemp, 0)
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.Emit(OpSendGT)
			bb.EmitJump(OpJumpFalse, skip)
			bb.EmitByte(OpPushTemp, 0)
			bb.Emit(OpNonLocalReturn)
			bb.Mark(skip)
			bb.Emit(OpPushNil)
		})
		emitSend(vm, m, b, "to:do:")
		b.Emit(OpPOP)
		b.Emit(OpReturnNil)
	}))
	wantInt(t, mustSend(t, vm, Nil, "firstOver:", FromSmallInt(10)), 11)
	if v := mustSend(t, vm, Nil, "firstOver:", FromSmallInt(500)); v != Nil {
		t.Errorf("no element over the limit: got %s", describeImmediate(v))
	}
	if vm.interp.active != nil {
		t.Error("contexts left active after a non-local return")
	}
}

func TestNonLocalReturnThroughConditionalPrimitive(t *testing.T) {
	vm := NewVM()
	// sign  self < 0 ifTrue: [^-1]. ^1
	mustInstall(t, vm, vm.IntegerClass, assemble("sign", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.Emit(OpPushSelf)
		b.EmitInt8(OpPushInt8, 0)
		b.Emit(OpSendLT)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitInt8(OpPushInt8, -1)
			bb.Emit(OpNonLocalReturn)
		})
		emitSend(vm, m, b, "ifTrue:")
		b.Emit(OpPOP)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpReturnTop)
	}))
	wantInt(t, mustSend(t, vm, FromSmallInt(-5), "sign"), -1)
	wantInt(t, mustSend(t, vm, FromSmallInt(5), "sign"), 1)
}

func TestNonLocalReturnOutOfProtectedBlock(t *testing.T) {
	vm := NewVM()
	// early  [^5] on: Error do: [:e | 0]. ^6
	mustInstall(t, vm, vm.ObjectClass, assemble("early", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitInt8(OpPushInt8, 5)
			bb.Emit(OpNonLocalReturn)
		})
		pushGlobal(vm, m, b, "Error")
		block(m, b, 1, 0, func(bb *BytecodeBuilder) { bb.EmitInt8(OpPushInt8, 0) })
		emitSend(vm, m, b, "on:do:")
		b.Emit(OpPOP)
		b.EmitInt8(OpPushInt8, 6)
		b.Emit(OpReturnTop)
	}))
	wantInt(t, mustSend(t, vm, Nil, "early"), 5)

	// The abandoned handler must not catch errors signalled later.
	_, err := vm.Send(Nil, "frobnicate")
	wantUnhandled(t, err, "DoesNotUnderstand")
}

func TestNonLocalReturnToDeadContext(t *testing.T) {
	vm := NewVM()
	// escaper  ^[^42]
	mustInstall(t, vm, vm.ObjectClass, assemble("escaper", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitInt8(OpPushInt8, 42)
			bb.Emit(OpNonLocalReturn)
		})
		b.Emit(OpReturnTop)
	}))
	blk := mustSend(t, vm, Nil, "escaper")
	vm.AddRoot(blk)

	_, err := vm.Send(blk, "value")
	wantUnhandled(t, err, "NonLocalReturnToDeadContext")
	if vm.interp.active != nil {
		t.Error("contexts left active")
	}

	// ^[nil escaper value] on: NonLocalReturnToDeadContext do: [:e | e value]
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.Emit(OpPushNil)
			bb.EmitUint16(OpSendUnary, m.AddSymbol(vm.Symbols, "escaper"))
			bb.EmitByte(OpSendValue, 0)
		})
		pushGlobal(vm, m, b, "NonLocalReturnToDeadContext")
		block(m, b, 1, 0, func(bb *BytecodeBuilder) {
			bb.EmitByte(OpPushTemp, 0)
			bb.EmitUint16(OpSendUnary, m.AddSymbol(vm.Symbols, "value"))
		})
		emitSend(vm, m, b, "on:do:")
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 42)
}

func TestNonLocalReturnFromMethodBodyIsPlainReturn(t *testing.T) {
	vm := NewVM()
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 8)
		b.Emit(OpNonLocalReturn)
	})
	wantInt(t, v, 8)
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func TestWhileTrueLoop(t *testing.T) {
	vm := NewVM()
	// | i sum | i := 0. sum := 0. [i < 10] whileTrue: [i := i + 1. sum := sum + i]. ^sum
	v := mustDoIt(t, vm, 2, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitByte(OpStoreTemp, 1)
		b.Emit(OpPOP)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.EmitInt8(OpPushInt8, 10)
			bb.Emit(OpSendLT)
		})
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.EmitInt8(OpPushInt8, 1)
			bb.Emit(OpSendAdd)
			bb.EmitBytes2(OpStoreOuterTemp, 1, 0)
			bb.EmitBytes2(OpPushOuterTemp, 1, 1)
			bb.Emit(OpSendAdd)
			bb.EmitBytes2(OpStoreOuterTemp, 1, 1)
		})
		emitSend(vm, m, b, "whileTrue:")
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 55)
}

func TestToDoAndTimesRepeat(t *testing.T) {
	vm := NewVM()
	// | sum | sum := 0. 1 to: 4 do: [:i | sum := sum + (i * i)]. 3 timesRepeat: [sum := sum + 1]. ^sum
	v := mustDoIt(t, vm, 1, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		b.EmitInt8(OpPushInt8, 1)
		b.EmitInt8(OpPushInt8, 4)
		block(m, b, 1, 0, func(bb *BytecodeBuilder) {
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.EmitByte(OpPushTemp, 0)
			bb.EmitByte(OpPushTemp, 0)
			bb.Emit(OpSendMul)
			bb.Emit(OpSendAdd)
			bb.EmitBytes2(OpStoreOuterTemp, 1, 0)
		})
		emitSend(vm, m, b, "to:do:")
		b.Emit(OpPOP)
		b.EmitInt8(OpPushInt8, 3)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.EmitInt8(OpPushInt8, 1)
			bb.Emit(OpSendAdd)
			bb.EmitBytes2(OpStoreOuterTemp, 1, 0)
		})
		emitSend(vm, m, b, "timesRepeat:")
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 33)
}

func TestRepeatLeftByNonLocalReturn(t *testing.T) {
	vm := NewVM()
	// | i | i := 0. [i := i + 1. i = 5 ifTrue: [^i]] repeat
	v := mustDoIt(t, vm, 1, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			skip := bb.NewLabel()
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.EmitInt8(OpPushInt8, 1)
			bb.Emit(OpSendAdd)
			bb.EmitBytes2(OpStoreOuterTemp, 1, 0)
			bb.EmitInt8(OpPushInt8, 5)
			bb.Emit(OpSendEQ)
			bb.EmitJump(OpJumpFalse, skip)
			bb.EmitBytes2(OpPushOuterTemp, 1, 0)
			bb.Emit(OpNonLocalReturn)
			bb.Mark(skip)
			bb.Emit(OpPushNil)
		})
		emitSend(vm, m, b, "repeat")
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 5)
}

func TestDeepRecursionDoesNotUseGoStack(t *testing.T) {
	vm := NewVMWithOptions(Options{MaxDepth: 50000})
	// countDown  self = 0 ifTrue: [^0]. ^(self - 1) countDown + 1
	mustInstall(t, vm, vm.IntegerClass, assemble("countDown", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		rec := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitInt8(OpPushInt8, 0)
		b.Emit(OpSendEQ)
		b.EmitJump(OpJumpFalse, rec)
		b.EmitInt8(OpPushInt8, 0)
		b.Emit(OpReturnTop)
		b.Mark(rec)
		b.Emit(OpPushSelf)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendSub)
		emitSend(vm, m, b, "countDown")
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendAdd)
		b.Emit(OpReturnTop)
	}))
	wantInt(t, mustSend(t, vm, FromSmallInt(20000), "countDown"), 20000)
}
