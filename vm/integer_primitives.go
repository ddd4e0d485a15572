package vm

import (
	"hash/fnv"
	"math"
	"math/big"
)

// ---------------------------------------------------------------------------
// Large integers
// ---------------------------------------------------------------------------

// A LargePositiveInteger or LargeNegativeInteger is a byte object holding
// the magnitude least significant byte first; the class carries the sign.
// Integer results that fit a SmallInteger are always answered as one, so a
// large integer is never equal to a small one.

func (vm *VM) isLargeInt(v Value) bool {
	if !v.IsObject() {
		return false
	}
	c := vm.heap.ClassOf(v)
	return c == vm.LargePositiveIntegerClass || c == vm.LargeNegativeIntegerClass
}

func (vm *VM) isInteger(v Value) bool {
	return v.IsSmallInt() || vm.isLargeInt(v)
}

// bigOf returns the value of any integer.
func (vm *VM) bigOf(v Value) (*big.Int, bool) {
	switch {
	case v.IsSmallInt():
		return big.NewInt(v.SmallInt()), true
	case vm.isLargeInt(v):
		mag := vm.heap.Bytes(v)
		be := make([]byte, len(mag))
		for k, b := range mag {
			be[len(mag)-1-k] = b
		}
		n := new(big.Int).SetBytes(be)
		if vm.heap.ClassOf(v) == vm.LargeNegativeIntegerClass {
			n.Neg(n)
		}
		return n, true
	}
	return nil, false
}

// largeInteger boxes n as a large integer object whatever its size.
func (vm *VM) largeInteger(n *big.Int) Value {
	class := vm.LargePositiveIntegerClass
	if n.Sign() < 0 {
		class = vm.LargeNegativeIntegerClass
	}
	be := new(big.Int).Abs(n).Bytes()
	v := vm.heap.allocate(class, FormatBytes, 0, len(be), nil, 0)
	mag := vm.heap.Bytes(v)
	for k, b := range be {
		mag[len(be)-1-k] = b
	}
	vm.heap.BeImmutable(v)
	return v
}

// integerValue boxes n, as a SmallInteger when it fits.
func (vm *VM) integerValue(n *big.Int) Value {
	if n.IsInt64() {
		if v, ok := TryFromSmallInt(n.Int64()); ok {
			return v
		}
	}
	return vm.largeInteger(n)
}

// floatOf converts any number to a float64.
func (vm *VM) floatOf(v Value) (float64, bool) {
	switch {
	case v.IsFloat():
		return v.Float64(), true
	case v.IsSmallInt():
		return float64(v.SmallInt()), true
	case vm.isLargeInt(v):
		n, _ := vm.bigOf(v)
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	}
	return 0, false
}

func (vm *VM) isZero(v Value) bool {
	return v == FromSmallInt(0) || v.IsFloat() && v.Float64() == 0
}

// ---------------------------------------------------------------------------
// Generic numeric helpers
// ---------------------------------------------------------------------------

// intOp describes one integer operation at each representation.
type intOp struct {
	small func(x, y int64) (Value, bool)
	big   func(x, y *big.Int) *big.Int
	float func(x, y float64) float64
}

// integerArith builds the primitive for an integer operation. A Float
// argument switches to float arithmetic; anything that is not a number
// fails the primitive.
func integerArith(op intOp) PrimitiveFunc {
	return prim1(func(vm *VM, recv, arg Value) (Value, error) {
		if arg.IsFloat() {
			x, _ := vm.floatOf(recv)
			return FromFloat64(op.float(x, arg.Float64())), nil
		}
		if recv.IsSmallInt() && arg.IsSmallInt() && op.small != nil {
			if v, ok := op.small(recv.SmallInt(), arg.SmallInt()); ok {
				return v, nil
			}
		}
		x, ok := vm.bigOf(recv)
		y, ok2 := vm.bigOf(arg)
		if !ok || !ok2 {
			return Nil, ErrPrimitiveFailed
		}
		return vm.integerValue(op.big(x, y)), nil
	})
}

// compareNumbers orders two numbers. ok is false when either is not a
// number or a NaN is involved.
func (vm *VM) compareNumbers(a, b Value) (cmp int, ok bool) {
	if a.IsSmallInt() && b.IsSmallInt() {
		x, y := a.SmallInt(), b.SmallInt()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if a.IsFloat() || b.IsFloat() {
		x, ok1 := vm.floatOf(a)
		y, ok2 := vm.floatOf(b)
		if !ok1 || !ok2 || math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok1 := vm.bigOf(a)
	y, ok2 := vm.bigOf(b)
	if !ok1 || !ok2 {
		return 0, false
	}
	return x.Cmp(y), true
}

func (vm *VM) isNumber(v Value) bool {
	return v.IsFloat() || vm.isInteger(v)
}

// comparison builds an ordering primitive. Comparing with a non-number
// fails; comparing with NaN answers false.
func comparison(pred func(cmp int) bool) PrimitiveFunc {
	return prim1(func(vm *VM, recv, arg Value) (Value, error) {
		if !vm.isNumber(arg) {
			return Nil, ErrPrimitiveFailed
		}
		c, ok := vm.compareNumbers(recv, arg)
		return FromBool(ok && pred(c)), nil
	})
}

// numericEquality is = for numbers: equal value whatever the representation.
func numericEquality(negate bool) PrimitiveFunc {
	return prim1(func(vm *VM, recv, arg Value) (Value, error) {
		c, ok := vm.compareNumbers(recv, arg)
		return FromBool((ok && c == 0) != negate), nil
	})
}

// floorDivMod divides rounding towards negative infinity.
func floorDivMod(x, y int64) (q, m int64) {
	q, m = x/y, x%y
	if m != 0 && (m < 0) != (y < 0) {
		q--
		m += y
	}
	return q, m
}

func bigFloorDivMod(x, y *big.Int) (q, m *big.Int) {
	q, m = new(big.Int).QuoRem(x, y, new(big.Int))
	if m.Sign() != 0 && (m.Sign() < 0) != (y.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
		m.Add(m, y)
	}
	return q, m
}

// divisionArith wraps an integer division with the zero check.
func divisionArith(op intOp) PrimitiveFunc {
	arith := integerArith(op)
	return func(vm *VM, recv Value, args []Value) (Value, error) {
		if vm.isZero(args[0]) {
			return Nil, zeroDivide(recv)
		}
		return arith(vm, recv, args)
	}
}

// integerHash hashes a large integer's magnitude. Small integers hash to
// themselves.
func (vm *VM) integerHash(v Value) int64 {
	if v.IsSmallInt() {
		return v.SmallInt()
	}
	h := fnv.New64a()
	h.Write(vm.heap.Bytes(v))
	return int64(h.Sum64() & uint64(MaxSmallInt))
}

// ---------------------------------------------------------------------------
// Integer Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerIntegerPrimitives() {
	c := vm.IntegerClass

	// Arithmetic
	vm.primitive(c, "+", integerArith(intOp{
		small: func(x, y int64) (Value, bool) { return TryFromSmallInt(x + y) },
		big:   func(x, y *big.Int) *big.Int { return new(big.Int).Add(x, y) },
		float: func(x, y float64) float64 { return x + y },
	}))
	vm.primitive(c, "-", integerArith(intOp{
		small: func(x, y int64) (Value, bool) { return TryFromSmallInt(x - y) },
		big:   func(x, y *big.Int) *big.Int { return new(big.Int).Sub(x, y) },
		float: func(x, y float64) float64 { return x - y },
	}))
	vm.primitive(c, "*", integerArith(intOp{
		small: mulSmall,
		big:   func(x, y *big.Int) *big.Int { return new(big.Int).Mul(x, y) },
		float: func(x, y float64) float64 { return x * y },
	}))

	// / answers an Integer when the division is exact and a Float
	// otherwise.
	vm.primitive(c, "/", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		if !vm.isNumber(arg) {
			return Nil, ErrPrimitiveFailed
		}
		if vm.isZero(arg) {
			return Nil, zeroDivide(recv)
		}
		if !arg.IsFloat() {
			x, _ := vm.bigOf(recv)
			y, _ := vm.bigOf(arg)
			q, r := new(big.Int).QuoRem(x, y, new(big.Int))
			if r.Sign() == 0 {
				return vm.integerValue(q), nil
			}
		}
		x, _ := vm.floatOf(recv)
		y, _ := vm.floatOf(arg)
		return FromFloat64(x / y), nil
	}))
	vm.primitive(c, "//", divisionArith(intOp{
		small: func(x, y int64) (Value, bool) { q, _ := floorDivMod(x, y); return TryFromSmallInt(q) },
		big:   func(x, y *big.Int) *big.Int { q, _ := bigFloorDivMod(x, y); return q },
		float: func(x, y float64) float64 { return math.Floor(x / y) },
	}))
	vm.primitive(c, "\\\\", divisionArith(intOp{
		small: func(x, y int64) (Value, bool) { _, m := floorDivMod(x, y); return TryFromSmallInt(m) },
		big:   func(x, y *big.Int) *big.Int { _, m := bigFloorDivMod(x, y); return m },
		float: func(x, y float64) float64 { return x - math.Floor(x/y)*y },
	}))
	vm.primitive(c, "quo:", divisionArith(intOp{
		small: func(x, y int64) (Value, bool) { return TryFromSmallInt(x / y) },
		big:   func(x, y *big.Int) *big.Int { return new(big.Int).Quo(x, y) },
		float: func(x, y float64) float64 { return math.Trunc(x / y) },
	}))
	vm.primitive(c, "rem:", divisionArith(intOp{
		small: func(x, y int64) (Value, bool) { return TryFromSmallInt(x % y) },
		big:   func(x, y *big.Int) *big.Int { return new(big.Int).Rem(x, y) },
		float: math.Mod,
	}))

	// Comparison
	vm.primitive(c, "<", comparison(func(c int) bool { return c < 0 }))
	vm.primitive(c, ">", comparison(func(c int) bool { return c > 0 }))
	vm.primitive(c, "<=", comparison(func(c int) bool { return c <= 0 }))
	vm.primitive(c, ">=", comparison(func(c int) bool { return c >= 0 }))
	vm.primitive(c, "=", numericEquality(false))
	vm.primitive(c, "~=", numericEquality(true))
	vm.primitive(c, "hash", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(vm.integerHash(recv)), nil
	}))
	vm.primitive(c, "max:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		cmp, ok := vm.compareNumbers(recv, arg)
		if !ok {
			return Nil, ErrPrimitiveFailed
		}
		if cmp < 0 {
			return arg, nil
		}
		return recv, nil
	}))
	vm.primitive(c, "min:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		cmp, ok := vm.compareNumbers(recv, arg)
		if !ok {
			return Nil, ErrPrimitiveFailed
		}
		if cmp > 0 {
			return arg, nil
		}
		return recv, nil
	}))

	// Unary
	vm.primitive(c, "negated", prim0(func(vm *VM, recv Value) (Value, error) {
		n, _ := vm.bigOf(recv)
		return vm.integerValue(n.Neg(n)), nil
	}))
	vm.primitive(c, "abs", prim0(func(vm *VM, recv Value) (Value, error) {
		n, _ := vm.bigOf(recv)
		return vm.integerValue(n.Abs(n)), nil
	}))
	vm.primitive(c, "isZero", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(recv == FromSmallInt(0)), nil
	}))
	vm.primitive(c, "even", prim0(func(vm *VM, recv Value) (Value, error) {
		n, _ := vm.bigOf(recv)
		return FromBool(n.Bit(0) == 0), nil
	}))
	vm.primitive(c, "odd", prim0(func(vm *VM, recv Value) (Value, error) {
		n, _ := vm.bigOf(recv)
		return FromBool(n.Bit(0) == 1), nil
	}))

	// Conversion
	vm.primitive(c, "asFloat", prim0(func(vm *VM, recv Value) (Value, error) {
		f, _ := vm.floatOf(recv)
		return FromFloat64(f), nil
	}))
	vm.primitive(c, "asInteger", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "truncated", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "rounded", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "asLargeInteger", prim0(func(vm *VM, recv Value) (Value, error) {
		if vm.isLargeInt(recv) {
			return recv, nil
		}
		n, _ := vm.bigOf(recv)
		return vm.largeInteger(n), nil
	}))
	vm.primitive(c, "asCharacter", prim0(func(vm *VM, recv Value) (Value, error) {
		if !recv.IsSmallInt() || recv.SmallInt() < 0 || recv.SmallInt() > math.MaxInt32 {
			return Nil, invalidArgument("%s is not a character value", vm.printString(recv))
		}
		return FromRune(rune(recv.SmallInt())), nil
	}))

	// Bit operations
	bitOp := func(f func(z, x, y *big.Int) *big.Int) PrimitiveFunc {
		return prim1(func(vm *VM, recv, arg Value) (Value, error) {
			x, _ := vm.bigOf(recv)
			y, ok := vm.bigOf(arg)
			if !ok {
				return Nil, ErrPrimitiveFailed
			}
			return vm.integerValue(f(new(big.Int), x, y)), nil
		})
	}
	vm.primitive(c, "bitAnd:", bitOp((*big.Int).And))
	vm.primitive(c, "bitOr:", bitOp((*big.Int).Or))
	vm.primitive(c, "bitXor:", bitOp((*big.Int).Xor))
	vm.primitive(c, "bitShift:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		shift, err := intArg(arg)
		if err != nil {
			return Nil, err
		}
		n, _ := vm.bigOf(recv)
		if shift >= 0 {
			return vm.integerValue(n.Lsh(n, uint(shift))), nil
		}
		return vm.integerValue(n.Rsh(n, uint(-shift))), nil
	}))

	vm.registerSmallIntegerPrimitives()
	vm.registerIntegerLoops()
}

// ---------------------------------------------------------------------------
// SmallInteger Primitives
// ---------------------------------------------------------------------------

// SmallInteger + - * are bytecode methods behind a primitive. When the
// result leaves the SmallInteger range the primitive fails and the body
// redoes the operation in large integer arithmetic.
func (vm *VM) registerSmallIntegerPrimitives() {
	c := vm.SmallIntegerClass

	smallOp := func(op func(x, y int64) (Value, bool), fop func(x, y float64) float64) PrimitiveFunc {
		return prim1(func(vm *VM, recv, arg Value) (Value, error) {
			switch {
			case arg.IsSmallInt():
				if v, ok := op(recv.SmallInt(), arg.SmallInt()); ok {
					return v, nil
				}
			case arg.IsFloat():
				return FromFloat64(fop(float64(recv.SmallInt()), arg.Float64())), nil
			}
			return Nil, ErrPrimitiveFailed
		})
	}
	overflowing := func(selector string, prim PrimitiveFunc) {
		vm.kernelMethod(c, selector, 0, prim, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
			asLarge := m.AddSymbol(vm.Symbols, "asLargeInteger")
			op := m.AddSymbol(vm.Symbols, selector)
			b.Emit(OpPushSelf)
			b.EmitUint16(OpSendUnary, asLarge)
			b.EmitByte(OpPushTemp, 0)
			b.EmitUint16(OpSendBinary, op)
			b.Emit(OpReturnTop)
		})
	}
	overflowing("+", smallOp(func(x, y int64) (Value, bool) { return TryFromSmallInt(x + y) },
		func(x, y float64) float64 { return x + y }))
	overflowing("-", smallOp(func(x, y int64) (Value, bool) { return TryFromSmallInt(x - y) },
		func(x, y float64) float64 { return x - y }))
	overflowing("*", smallOp(mulSmall,
		func(x, y float64) float64 { return x * y }))
}

// registerIntegerLoops installs timesRepeat: and to:do: as bytecode so the
// block runs on the context chain.
func (vm *VM) registerIntegerLoops() {
	c := vm.IntegerClass

	// timesRepeat: aBlock  | i |  i := 1. [i <= self] whileTrue: [aBlock value. i := i + 1]
	vm.kernelMethod(c, "timesRepeat:", 1, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		loop, done := b.NewLabel(), b.NewLabel()
		b.EmitPushInt(1)
		b.EmitByte(OpStoreTemp, 1)
		b.Emit(OpPOP)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpPushSelf)
		b.Emit(OpSendLE)
		b.EmitJump(OpJumpFalse, done)
		b.EmitByte(OpPushTemp, 0)
		b.EmitByte(OpSendValue, 0)
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

	// to: stop do: aBlock  | i |  i := self. [i <= stop] whileTrue: [aBlock value: i. i := i + 1]
	vm.kernelMethod(c, "to:do:", 1, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		loop, done := b.NewLabel(), b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitByte(OpStoreTemp, 2)
		b.Emit(OpPOP)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 2)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendLE)
		b.EmitJump(OpJumpFalse, done)
		b.EmitByte(OpPushTemp, 1)
		b.EmitByte(OpPushTemp, 2)
		b.EmitByte(OpSendValue, 1)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 2)
		b.EmitPushInt(1)
		b.Emit(OpSendAdd)
		b.EmitByte(OpStoreTemp, 2)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
		b.Mark(done)
		b.Emit(OpReturnSelf)
	})
}
