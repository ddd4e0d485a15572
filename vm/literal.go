package vm

import (
	"math/big"
)

// LiteralInteger returns n as a method literal: a SmallInteger when it
// fits, otherwise an immutable large integer that stays live for the VM's
// lifetime.
func (vm *VM) LiteralInteger(n *big.Int) Value {
	if n.IsInt64() {
		if v, ok := TryFromSmallInt(n.Int64()); ok {
			return v
		}
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	class := vm.LargePositiveIntegerClass
	if n.Sign() < 0 {
		class = vm.LargeNegativeIntegerClass
	}
	be := new(big.Int).Abs(n).Bytes()
	v := vm.heap.allocateOld(class, FormatBytes, 0, len(be), nil, 0)
	mag := vm.heap.Bytes(v)
	for k, b := range be {
		mag[len(be)-1-k] = b
	}
	vm.heap.BeImmutable(v)
	vm.literals = append(vm.literals, v)
	return v
}

// IntegerValue returns the value of a SmallInteger or large integer.
func (vm *VM) IntegerValue(v Value) (*big.Int, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.bigOf(v)
}

// ArrayElements copies the elements of an Array.
func (vm *VM) ArrayElements(v Value) ([]Value, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if !v.IsObject() || !vm.heap.ClassOf(v).IsSubclassOf(vm.ArrayClass) {
		return nil, false
	}
	return vm.arrayElements(v)
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, bool) {
	for f := FormatFixed; f <= FormatBlock; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}
