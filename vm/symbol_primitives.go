package vm

// ---------------------------------------------------------------------------
// Symbol Primitives
// ---------------------------------------------------------------------------

// Symbols are immediates naming an interned string. They are read-only and
// compare by identity.
func (vm *VM) registerSymbolPrimitives() {
	c := vm.SymbolClass

	name := func(recv Value) string { return vm.Symbols.Name(recv.SymbolID()) }

	vm.primitive(c, "size", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(len(name(recv)))), nil
	}))
	vm.primitive(c, "at:", prim1(func(vm *VM, recv, index Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		s := name(recv)
		if idx < 1 || idx > len(s) {
			return Nil, indexOutOfRange(idx, len(s))
		}
		return FromRune(rune(s[idx-1])), nil
	}))
	vm.primitive(c, "at:put:", prim2(func(vm *VM, recv, _, _ Value) (Value, error) {
		return Nil, immutableObject(recv)
	}))
	vm.primitive(c, "=", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return FromBool(recv == arg), nil
	}))
	vm.primitive(c, "hash", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(stringHash([]byte(name(recv)))), nil
	}))
	vm.primitive(c, ",", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return vm.concat(recv, arg)
	}))
	vm.primitive(c, "asSymbol", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "asString", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(name(recv)), nil
	}))
	vm.primitive(c, "displayString", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(name(recv)), nil
	}))
	vm.primitive(c, "numArgs", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(SelectorArity(name(recv)))), nil
	}))

	// #foo value: x sends foo to x.
	vm.primitive(c, "value:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return vm.perform(arg, recv.SymbolID(), nil)
	}))
}
