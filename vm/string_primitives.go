package vm

import (
	"bytes"
	"hash/fnv"
	"strings"
)

// ---------------------------------------------------------------------------
// String Primitives
// ---------------------------------------------------------------------------

// Strings are byte objects; at: answers the Character with the byte's
// value and at:put: accepts characters below 256.
func (vm *VM) registerStringPrimitives() {
	c := vm.StringClass

	vm.primitive(c, "size", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(len(vm.heap.Bytes(recv)))), nil
	}))
	vm.primitive(c, "at:", prim1(func(vm *VM, recv, index Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		b, err := vm.heap.FetchByte(recv, idx-1)
		if err != nil {
			return Nil, err
		}
		return FromRune(rune(b)), nil
	}))
	vm.primitive(c, "at:put:", prim2(func(vm *VM, recv, index, ch Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		if !ch.IsCharacter() || ch.Rune() > 255 {
			return Nil, invalidArgument("cannot store %s in a String", vm.printString(ch))
		}
		return ch, vm.heap.StoreByte(recv, idx-1, byte(ch.Rune()))
	}))

	// Strings compare equal to Strings and Symbols with the same text.
	vm.primitive(c, "=", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		s, ok := vm.stringValue(arg)
		return FromBool(ok && s == string(vm.heap.Bytes(recv))), nil
	}))
	vm.primitive(c, "hash", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(stringHash(vm.heap.Bytes(recv))), nil
	}))
	vm.primitive(c, "<", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		s, ok := vm.stringValue(arg)
		if !ok {
			return Nil, ErrPrimitiveFailed
		}
		return FromBool(bytes.Compare(vm.heap.Bytes(recv), []byte(s)) < 0), nil
	}))
	vm.primitive(c, ",", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return vm.concat(recv, arg)
	}))
	vm.primitive(c, "copyFrom:to:", prim2(func(vm *VM, recv, from, to Value) (Value, error) {
		start, err := intArg(from)
		if err != nil {
			return Nil, err
		}
		stop, err := intArg(to)
		if err != nil {
			return Nil, err
		}
		n := len(vm.heap.Bytes(recv))
		if stop < start-1 {
			return Nil, invalidArgument("copyFrom: %d to: %d", start, stop)
		}
		if start < 1 || start > n+1 {
			return Nil, indexOutOfRange(start, n)
		}
		if stop > n {
			return Nil, indexOutOfRange(stop, n)
		}
		return vm.newString(string(vm.heap.Bytes(recv)[start-1 : stop])), nil
	}))
	vm.primitive(c, "includesSubstring:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		s, ok := vm.stringValue(arg)
		if !ok {
			return Nil, ErrPrimitiveFailed
		}
		return FromBool(strings.Contains(string(vm.heap.Bytes(recv)), s)), nil
	}))
	vm.primitive(c, "asUppercase", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(strings.ToUpper(string(vm.heap.Bytes(recv)))), nil
	}))
	vm.primitive(c, "asLowercase", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(strings.ToLower(string(vm.heap.Bytes(recv)))), nil
	}))

	// Conversion
	vm.primitive(c, "asSymbol", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.Symbols.Value(string(vm.heap.Bytes(recv))), nil
	}))
	vm.primitive(c, "asString", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "displayString", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(string(vm.heap.Bytes(recv))), nil
	}))

	vm.registerSequenceLoops(c)
}

// concat answers a new String holding recv's text followed by arg's.
func (vm *VM) concat(recv, arg Value) (Value, error) {
	a, _ := vm.stringValue(recv)
	b, ok := vm.stringValue(arg)
	if !ok {
		return Nil, invalidArgument("cannot append %s to a String", vm.printString(arg))
	}
	return vm.newString(a + b), nil
}

// stringHash hashes text so that equal Strings and Symbols agree.
func stringHash(b []byte) int64 {
	h := fnv.New64a()
	h.Write(b)
	return int64(h.Sum64() & uint64(MaxSmallInt))
}
