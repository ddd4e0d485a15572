package vm

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func TestPushConstants(t *testing.T) {
	vm := NewVM()
	tests := []struct {
		name string
		emit func(m *CompiledMethodBuilder, b *BytecodeBuilder)
		want Value
	}{
		{"nil", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.Emit(OpPushNil) }, Nil},
		{"true", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.Emit(OpPushTrue) }, True},
		{"false", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.Emit(OpPushFalse) }, False},
		{"self", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.Emit(OpPushSelf) }, Nil},
		{"int8", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.EmitInt8(OpPushInt8, -128) }, FromSmallInt(-128)},
		{"int32", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.EmitInt32(OpPushInt32, 1<<30) }, FromSmallInt(1 << 30)},
		{"float", func(m *CompiledMethodBuilder, b *BytecodeBuilder) { b.EmitFloat64(2.5) }, FromFloat64(2.5)},
		{"literal", func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
			b.EmitUint16(OpPushLiteral, m.AddLiteral(FromRune('q')))
		}, FromRune('q')},
		{"dup and pop", func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
			b.EmitInt8(OpPushInt8, 1)
			b.Emit(OpDUP)
			b.Emit(OpSendAdd)
			b.EmitInt8(OpPushInt8, 9)
			b.Emit(OpPOP)
		}, FromSmallInt(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
				tt.emit(m, b)
				b.Emit(OpReturnTop)
			})
			if v != tt.want {
				t.Errorf("got %s, want %s", describeImmediate(v), describeImmediate(tt.want))
			}
		})
	}
}

func TestTempsAndGlobals(t *testing.T) {
	vm := NewVM()
	// | a b | a := 3. b := a * 4. Answer := b. ^Answer - a
	v := mustDoIt(t, vm, 2, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 3)
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 0)
		b.EmitInt8(OpPushInt8, 4)
		b.Emit(OpSendMul)
		b.EmitByte(OpStoreTemp, 1)
		b.EmitUint16(OpStoreGlobal, m.AddSymbol(vm.Symbols, "Answer"))
		b.Emit(OpPOP)
		pushGlobal(vm, m, b, "Answer")
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendSub)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 9)
	wantInt(t, vm.Global("Answer"), 12)

	v = mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		pushGlobal(vm, m, b, "Undeclared")
		b.Emit(OpReturnTop)
	})
	if v != Nil {
		t.Error("unbound global should read as nil")
	}
}

func TestConditionalJumps(t *testing.T) {
	vm := NewVM()
	// max: x  ^self > x ifTrue: [self] ifFalse: [x]
	mustInstall(t, vm, vm.IntegerClass, assemble("maxOf:", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		other := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendGT)
		b.EmitJump(OpJumpFalse, other)
		b.Emit(OpReturnSelf)
		b.Mark(other)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	}))
	wantInt(t, mustSend(t, vm, FromSmallInt(3), "maxOf:", FromSmallInt(8)), 8)
	wantInt(t, mustSend(t, vm, FromSmallInt(9), "maxOf:", FromSmallInt(8)), 9)

	// Sum 1..10 with a backward JUMP and JUMP_TRUE exit.
	v := mustDoIt(t, vm, 2, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		loop, done := b.NewLabel(), b.NewLabel()
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitByte(OpStoreTemp, 1)
		b.Emit(OpPOP)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 1)
		b.EmitInt8(OpPushInt8, 10)
		b.Emit(OpSendGE)
		b.EmitJump(OpJumpTrue, done)
		b.EmitByte(OpPushTemp, 1)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendAdd)
		b.EmitByte(OpStoreTemp, 1)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendAdd)
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
		b.Mark(done)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 55)
}

func TestNonBooleanReceiver(t *testing.T) {
	vm := NewVM()
	jumpOnThree := func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		l := b.NewLabel()
		b.EmitInt8(OpPushInt8, 3)
		b.EmitJump(OpJumpFalse, l)
		b.Mark(l)
		b.Emit(OpReturnNil)
	}
	_, err := doIt(vm, 0, jumpOnThree)
	ue := wantUnhandled(t, err, "NonBooleanReceiver")
	if ue.MessageText != "3 is not a Boolean" {
		t.Errorf("MessageText = %q", ue.MessageText)
	}

	// ^[<jump on 3>] on: NonBooleanReceiver do: [:e | e object]
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			l := bb.NewLabel()
			bb.EmitInt8(OpPushInt8, 3)
			bb.EmitJump(OpJumpTrue, l)
			bb.Mark(l)
			bb.Emit(OpPushNil)
		})
		pushGlobal(vm, m, b, "NonBooleanReceiver")
		block(m, b, 1, 0, func(bb *BytecodeBuilder) {
			bb.EmitByte(OpPushTemp, 0)
			bb.EmitUint16(OpSendUnary, m.AddSymbol(vm.Symbols, "object"))
		})
		emitSend(vm, m, b, "on:do:")
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 3)
}

func TestCreateArray(t *testing.T) {
	vm := NewVM()
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpPushTrue)
		b.EmitUint16(OpPushLiteral, m.AddLiteral(vm.LiteralString("x")))
		b.EmitByte(OpCreateArray, 3)
		b.Emit(OpReturnTop)
	})
	if vm.ClassOf(v) != vm.ArrayClass {
		t.Fatalf("class = %v", vm.ClassOf(v))
	}
	if s, _ := vm.PrintString(v); s != "#(1 true 'x')" {
		t.Errorf("printString = %q", s)
	}
}

func TestThisContext(t *testing.T) {
	vm := NewVM()
	ctx := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.Emit(OpPushContext)
		b.Emit(OpReturnTop)
	})
	vm.AddRoot(ctx)
	if vm.ClassOf(ctx) != vm.ContextClass {
		t.Fatalf("class = %v", vm.ClassOf(ctx))
	}
	if got := mustSend(t, vm, ctx, "selector"); got != vm.Symbol("doIt") {
		t.Errorf("selector = %s", describeImmediate(got))
	}
	if got := mustSend(t, vm, ctx, "isDead"); got != True {
		t.Error("returned context should be dead")
	}
	if got := mustSend(t, vm, ctx, "isBlockContext"); got != False {
		t.Error("method context reported as block context")
	}
}

func TestGenericSendOpcode(t *testing.T) {
	vm := NewVM()
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 5)
		b.EmitInt8(OpPushInt8, 7)
		b.EmitSend(OpSend, m.AddSymbol(vm.Symbols, "min:"), 1)
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, 5)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arith evaluates x op y with a special send.
func arith(t *testing.T, vm *VM, x Value, op Opcode, y Value) Value {
	t.Helper()
	return mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitUint16(OpPushLiteral, m.AddLiteral(x))
		b.EmitUint16(OpPushLiteral, m.AddLiteral(y))
		b.Emit(op)
		b.Emit(OpReturnTop)
	})
}

func TestSmallIntegerOverflowPromotes(t *testing.T) {
	vm := NewVM()
	hi, lo := FromSmallInt(MaxSmallInt), FromSmallInt(MinSmallInt)

	big1 := arith(t, vm, hi, OpSendAdd, FromSmallInt(1))
	vm.AddRoot(big1)
	if vm.ClassOf(big1) != vm.LargePositiveIntegerClass {
		t.Fatalf("MaxSmallInt + 1 class = %v", vm.ClassOf(big1))
	}
	if n, _ := vm.bigOf(big1); n.Cmp(big.NewInt(MaxSmallInt+1)) != 0 {
		t.Errorf("MaxSmallInt + 1 = %s", n)
	}
	// Results back in range normalize to SmallInteger.
	wantInt(t, mustSend(t, vm, big1, "-", FromSmallInt(1)), MaxSmallInt)

	neg := arith(t, vm, lo, OpSendSub, FromSmallInt(1))
	if vm.ClassOf(neg) != vm.LargeNegativeIntegerClass {
		t.Errorf("MinSmallInt - 1 class = %v", vm.ClassOf(neg))
	}

	sq := arith(t, vm, hi, OpSendMul, hi)
	want := new(big.Int).Mul(big.NewInt(MaxSmallInt), big.NewInt(MaxSmallInt))
	if n, _ := vm.bigOf(sq); n.Cmp(want) != 0 {
		t.Errorf("MaxSmallInt squared = %s, want %s", n, want)
	}
	if got := arith(t, vm, hi, OpSendLT, hi); got != False {
		t.Error("max < max should be false")
	}
}

func TestLargeIntegerComparisonAndEquality(t *testing.T) {
	vm := NewVM()
	a := arith(t, vm, FromSmallInt(MaxSmallInt), OpSendAdd, FromSmallInt(5))
	vm.AddRoot(a)
	b := arith(t, vm, FromSmallInt(MaxSmallInt), OpSendAdd, FromSmallInt(5))
	vm.AddRoot(b)
	if a == b {
		t.Fatal("separate large integers should be distinct objects")
	}
	if mustSend(t, vm, a, "=", b) != True {
		t.Error("equal large integers should be =")
	}
	if mustSend(t, vm, a, ">", FromSmallInt(MaxSmallInt)) != True {
		t.Error("large > small should be true")
	}
	if mustSend(t, vm, FromSmallInt(1), "=", a) != False {
		t.Error("small = large should be false")
	}
	if s, _ := vm.PrintString(a); s != big.NewInt(MaxSmallInt+5).String() {
		t.Errorf("printString = %q", s)
	}
}

func TestMixedFloatArithmetic(t *testing.T) {
	vm := NewVM()
	if v := arith(t, vm, FromSmallInt(3), OpSendAdd, FromFloat64(1.5)); v != FromFloat64(4.5) {
		t.Errorf("3 + 1.5 = %s", describeImmediate(v))
	}
	if v := arith(t, vm, FromFloat64(1.5), OpSendMul, FromSmallInt(2)); v != FromFloat64(3) {
		t.Errorf("1.5 * 2 = %s", describeImmediate(v))
	}
	if v := arith(t, vm, FromFloat64(1.5), OpSendLT, FromSmallInt(2)); v != True {
		t.Errorf("1.5 < 2 = %s", describeImmediate(v))
	}
}

func TestArithmeticOnNonNumberFails(t *testing.T) {
	vm := NewVM()
	_, err := doIt(vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 3)
		b.Emit(OpPushNil)
		b.Emit(OpSendAdd)
		b.Emit(OpReturnTop)
	})
	var ue *UnhandledError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want an unhandled error", err)
	}
}

// ---------------------------------------------------------------------------
// Interruption
// ---------------------------------------------------------------------------

func TestInterruptStopsRunawayLoop(t *testing.T) {
	vm := NewVM()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				vm.Interrupt()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	// [true] whileTrue
	_, err := doIt(vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) { bb.Emit(OpPushTrue) })
		emitSend(vm, m, b, "whileTrue")
		b.Emit(OpReturnTop)
	})
	close(done)
	wg.Wait()
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if vm.interp.active != nil {
		t.Error("interrupted send left contexts active")
	}

	vm.interrupted.Store(false)
	wantInt(t, mustSend(t, vm, FromSmallInt(2), "+", FromSmallInt(2)), 4)
}
