package vm

// ---------------------------------------------------------------------------
// Object Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerObjectPrimitives() {
	c := vm.ObjectClass

	// Identity and class
	vm.primitive(c, "class", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.classOf(recv).object, nil
	}))
	vm.primitive(c, "==", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return FromBool(recv == arg), nil
	}))
	vm.primitive(c, "~~", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return FromBool(recv != arg), nil
	}))
	vm.primitive(c, "=", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		return FromBool(recv == arg), nil
	}))
	vm.primitive(c, "hash", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(vm.heap.IdentityHash(recv)), nil
	}))
	vm.primitive(c, "identityHash", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(vm.heap.IdentityHash(recv)), nil
	}))
	vm.primitive(c, "yourself", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))

	// ~= is defined by sending = so subclasses only override one of them.
	vm.kernelMethod(c, "~=", 0, nil, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		not := m.AddSymbol(vm.Symbols, "not")
		b.Emit(OpPushSelf)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendEQ)
		b.EmitUint16(OpSendUnary, not)
		b.Emit(OpReturnTop)
	})

	// Printing
	vm.primitive(c, "printString", prim0(func(vm *VM, recv Value) (Value, error) {
		s, err := vm.printStringSending(recv)
		if err != nil {
			return Nil, err
		}
		return vm.newString(s), nil
	}))
	vm.primitive(c, "displayString", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(vm.displayString(recv)), nil
	}))

	// Testing
	vm.primitive(c, "isNil", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(recv == Nil), nil
	}))
	vm.primitive(c, "notNil", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(recv != Nil), nil
	}))
	vm.primitive(c, "isKindOf:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		class := vm.classFromObject(arg)
		return FromBool(class != nil && vm.classOf(recv).IsSubclassOf(class)), nil
	}))
	vm.primitive(c, "isMemberOf:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		class := vm.classFromObject(arg)
		return FromBool(class != nil && vm.classOf(recv) == class), nil
	}))
	vm.primitive(c, "respondsTo:", prim1(func(vm *VM, recv, arg Value) (Value, error) {
		sel, err := vm.selectorArg(arg)
		if err != nil {
			return Nil, err
		}
		return FromBool(vm.cache.Lookup(vm.classOf(recv), sel) != nil), nil
	}))

	// Nil tests. UndefinedObject overrides these.
	vm.primitive(c, "ifNil:", prim1(func(vm *VM, recv, _ Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "ifNotNil:", prim1(func(vm *VM, recv, block Value) (Value, error) {
		return vm.cull(block, recv)
	}))
	vm.primitive(c, "ifNil:ifNotNil:", prim2(func(vm *VM, recv, _, notNilBlock Value) (Value, error) {
		return vm.cull(notNilBlock, recv)
	}))
	vm.primitive(c, "ifNotNil:ifNil:", prim2(func(vm *VM, recv, notNilBlock, _ Value) (Value, error) {
		return vm.cull(notNilBlock, recv)
	}))

	// Slot access
	vm.primitive(c, "instVarAt:", prim1(func(vm *VM, recv, index Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		named := vm.namedSize(recv)
		if idx < 1 || idx > named {
			return Nil, indexOutOfRange(idx, named)
		}
		return vm.heap.Fetch(recv, idx-1)
	}))
	vm.primitive(c, "instVarAt:put:", prim2(func(vm *VM, recv, index, v Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		if !recv.IsObject() {
			return Nil, immutableObject(recv)
		}
		named := vm.namedSize(recv)
		if idx < 1 || idx > named {
			return Nil, indexOutOfRange(idx, named)
		}
		return v, vm.heap.Store(recv, idx-1, v)
	}))
	basicAt := prim1(func(vm *VM, recv, index Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		return vm.basicAt(recv, idx)
	})
	basicAtPut := prim2(func(vm *VM, recv, index, v Value) (Value, error) {
		idx, err := intArg(index)
		if err != nil {
			return Nil, err
		}
		return v, vm.basicAtPut(recv, idx, v)
	})
	basicSize := prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(vm.basicSize(recv))), nil
	})
	vm.primitive(c, "basicAt:", basicAt)
	vm.primitive(c, "basicAt:put:", basicAtPut)
	vm.primitive(c, "basicSize", basicSize)
	vm.primitive(c, "at:", basicAt)
	vm.primitive(c, "at:put:", basicAtPut)
	vm.primitive(c, "size", basicSize)

	vm.primitive(c, "copy", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.shallowCopy(recv), nil
	}))
	vm.primitive(c, "beReadOnly", prim0(func(vm *VM, recv Value) (Value, error) {
		vm.heap.BeImmutable(recv)
		return recv, nil
	}))
	vm.primitive(c, "isReadOnly", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(vm.heap.IsImmutable(recv)), nil
	}))

	// Errors
	vm.primitive(c, "doesNotUnderstand:", prim1(func(vm *VM, recv, msg Value) (Value, error) {
		sel := vm.field(msg, "selector")
		name := "?"
		if sel.IsSymbol() {
			name = vm.Symbols.Name(sel.SymbolID())
		}
		le := newLanguageError("DoesNotUnderstand", "%s does not understand #%s", vm.printString(recv), name)
		le.Fields = map[string]Value{"message": msg, "receiver": recv}
		return Nil, le
	}))
	vm.primitive(c, "error:", prim1(func(vm *VM, recv, text Value) (Value, error) {
		s, ok := vm.stringValue(text)
		if !ok {
			s = vm.printString(text)
		}
		return Nil, &LanguageError{Class: "Error", Message: s}
	}))

	// Reflective sends
	vm.primitive(c, "perform:", prim1(func(vm *VM, recv, selector Value) (Value, error) {
		sel, err := vm.selectorArg(selector)
		if err != nil {
			return Nil, err
		}
		return vm.perform(recv, sel, nil)
	}))
	vm.primitive(c, "perform:with:", prim2(func(vm *VM, recv, selector, arg Value) (Value, error) {
		sel, err := vm.selectorArg(selector)
		if err != nil {
			return Nil, err
		}
		return vm.perform(recv, sel, []Value{arg})
	}))
	vm.primitive(c, "perform:withArguments:", prim2(func(vm *VM, recv, selector, args Value) (Value, error) {
		sel, err := vm.selectorArg(selector)
		if err != nil {
			return Nil, err
		}
		elems, ok := vm.arrayElements(args)
		if !ok {
			return Nil, invalidArgument("perform:withArguments: expects an Array, got %s", vm.printString(args))
		}
		return vm.perform(recv, sel, elems)
	}))

	vm.registerUndefinedObjectPrimitives()
}

func (vm *VM) registerUndefinedObjectPrimitives() {
	c := vm.UndefinedObjectClass

	vm.primitive(c, "ifNil:", prim1(func(vm *VM, _, block Value) (Value, error) {
		return vm.tailValue(block)
	}))
	vm.primitive(c, "ifNotNil:", prim1(func(vm *VM, _, _ Value) (Value, error) {
		return Nil, nil
	}))
	vm.primitive(c, "ifNil:ifNotNil:", prim2(func(vm *VM, _, nilBlock, _ Value) (Value, error) {
		return vm.tailValue(nilBlock)
	}))
	vm.primitive(c, "ifNotNil:ifNil:", prim2(func(vm *VM, _, _, nilBlock Value) (Value, error) {
		return vm.tailValue(nilBlock)
	}))
}

// cull evaluates block with arg if it takes one argument, else with none.
func (vm *VM) cull(block, arg Value) (Value, error) {
	if bc := vm.closureOf(block); bc != nil && bc.NumArgs() == 1 {
		return vm.tailValue(block, arg)
	}
	return vm.tailValue(block)
}

// ---------------------------------------------------------------------------
// Slot helpers
// ---------------------------------------------------------------------------

func (vm *VM) namedSize(v Value) int {
	if !v.IsObject() {
		return 0
	}
	return vm.heap.NamedSize(v)
}

// basicSize is the number of indexed elements; bytes for byte objects.
func (vm *VM) basicSize(v Value) int {
	if !v.IsObject() {
		return 0
	}
	return vm.heap.IndexedSize(v)
}

// basicAt reads indexed element idx (1-based). Byte objects answer
// SmallIntegers.
func (vm *VM) basicAt(v Value, idx int) (Value, error) {
	n := vm.basicSize(v)
	if idx < 1 || idx > n {
		return Nil, indexOutOfRange(idx, n)
	}
	if vm.heap.FormatOf(v) == FormatBytes {
		b, err := vm.heap.FetchByte(v, idx-1)
		return FromSmallInt(int64(b)), err
	}
	return vm.heap.Fetch(v, vm.heap.NamedSize(v)+idx-1)
}

// basicAtPut writes indexed element idx (1-based).
func (vm *VM) basicAtPut(v Value, idx int, x Value) error {
	if !v.IsObject() {
		return immutableObject(v)
	}
	n := vm.basicSize(v)
	if idx < 1 || idx > n {
		return indexOutOfRange(idx, n)
	}
	if vm.heap.FormatOf(v) == FormatBytes {
		if !x.IsSmallInt() || x.SmallInt() < 0 || x.SmallInt() > 255 {
			return invalidArgument("%s is not a byte", vm.printString(x))
		}
		return vm.heap.StoreByte(v, idx-1, byte(x.SmallInt()))
	}
	return vm.heap.Store(v, vm.heap.NamedSize(v)+idx-1, x)
}

// shallowCopy copies v's slots into a new object of the same class.
// Immediates, classes, contexts and closures answer themselves.
func (vm *VM) shallowCopy(v Value) Value {
	if !v.IsObject() || vm.heap.FormatOf(v).isNative() {
		return v
	}
	class := vm.heap.ClassOf(v)
	format := vm.heap.FormatOf(v)
	named := vm.heap.NamedSize(v)
	c := vm.heap.allocate(class, format, named, vm.heap.IndexedSize(v), nil, 0)
	if format == FormatBytes {
		copy(vm.heap.Bytes(c), vm.heap.Bytes(v))
	}
	for k := 0; k < vm.heap.Size(v); k++ {
		x, _ := vm.heap.Fetch(v, k)
		vm.heap.storeRaw(c, k, x)
	}
	return c
}
