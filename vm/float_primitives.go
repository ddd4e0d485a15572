package vm

import (
	"math"
	"math/big"
)

// ---------------------------------------------------------------------------
// Float Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFloatPrimitives() {
	c := vm.FloatClass

	arith := func(op func(x, y float64) float64) PrimitiveFunc {
		return prim1(func(vm *VM, recv, arg Value) (Value, error) {
			y, ok := vm.floatOf(arg)
			if !ok {
				return Nil, ErrPrimitiveFailed
			}
			return FromFloat64(op(recv.Float64(), y)), nil
		})
	}

	// Arithmetic
	vm.primitive(c, "+", arith(func(x, y float64) float64 { return x + y }))
	vm.primitive(c, "-", arith(func(x, y float64) float64 { return x - y }))
	vm.primitive(c, "*", arith(func(x, y float64) float64 { return x * y }))
	vm.primitive(c, "/", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		y, ok := vm.floatOf(arg)
		if !ok {
			return Nil, ErrPrimitiveFailed
		}
		if y == 0 {
			return Nil, zeroDivide(recv)
		}
		return FromFloat64(recv.Float64() / y), nil
	}))

	// Comparison
	vm.primitive(c, "<", comparison(func(c int) bool { return c < 0 }))
	vm.primitive(c, ">", comparison(func(c int) bool { return c > 0 }))
	vm.primitive(c, "<=", comparison(func(c int) bool { return c <= 0 }))
	vm.primitive(c, ">=", comparison(func(c int) bool { return c >= 0 }))
	vm.primitive(c, "=", numericEquality(false))
	vm.primitive(c, "~=", numericEquality(true))

	// Integral floats hash like the integer they equal.
	vm.primitive(c, "hash", prim0(func(vm *VM, recv Value) (Value, error) {
		f := recv.Float64()
		if f == math.Trunc(f) && f >= float64(MinSmallInt) && f <= float64(MaxSmallInt) {
			return FromSmallInt(int64(f)), nil
		}
		return FromSmallInt(int64(math.Float64bits(f) & uint64(MaxSmallInt))), nil
	}))

	// Unary
	vm.primitive(c, "negated", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromFloat64(-recv.Float64()), nil
	}))
	vm.primitive(c, "abs", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromFloat64(math.Abs(recv.Float64())), nil
	}))
	vm.primitive(c, "sqrt", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromFloat64(math.Sqrt(recv.Float64())), nil
	}))
	vm.primitive(c, "isNaN", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(math.IsNaN(recv.Float64())), nil
	}))
	vm.primitive(c, "asFloat", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))

	// Conversion to Integer
	toInteger := func(round func(float64) float64) PrimitiveFunc {
		return prim0(func(vm *VM, recv Value) (Value, error) {
			f := round(recv.Float64())
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Nil, invalidArgument("%s has no integer value", vm.printString(recv))
			}
			n, _ := big.NewFloat(f).Int(nil)
			return vm.integerValue(n), nil
		})
	}
	vm.primitive(c, "truncated", toInteger(math.Trunc))
	vm.primitive(c, "rounded", toInteger(math.Round))
	vm.primitive(c, "floor", toInteger(math.Floor))
	vm.primitive(c, "ceiling", toInteger(math.Ceil))
}
