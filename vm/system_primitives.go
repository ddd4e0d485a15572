package vm

// ---------------------------------------------------------------------------
// SystemDictionary Primitives
// ---------------------------------------------------------------------------

// Smalltalk is the sole SystemDictionary. Its keys are Symbols naming
// globals, classes included.
func (vm *VM) registerSystemPrimitives() {
	c := vm.SystemDictionaryClass

	key := func(vm *VM, k Value) (uint32, error) {
		if !k.IsSymbol() {
			return 0, invalidArgument("global names are Symbols, got %s", vm.printString(k))
		}
		return k.SymbolID(), nil
	}

	vm.primitive(c, "at:", prim1(func(vm *VM, _, k Value) (Value, error) {
		id, err := key(vm, k)
		if err != nil {
			return Nil, err
		}
		v, ok := vm.globals[id]
		if !ok {
			return Nil, newLanguageError("Error", "key not found: #%s", vm.Symbols.Name(id))
		}
		return v, nil
	}))
	vm.primitive(c, "at:ifAbsent:", prim2(func(vm *VM, _, k, block Value) (Value, error) {
		id, err := key(vm, k)
		if err != nil {
			return Nil, err
		}
		if v, ok := vm.globals[id]; ok {
			return v, nil
		}
		return vm.tailValue(block)
	}))
	vm.primitive(c, "at:put:", prim2(func(vm *VM, _, k, v Value) (Value, error) {
		id, err := key(vm, k)
		if err != nil {
			return Nil, err
		}
		if class := vm.Classes.Lookup(vm.Symbols.Name(id)); class != nil && class.object != v {
			return Nil, newLanguageError("Error", "#%s names a class", class.Name)
		}
		vm.globals[id] = v
		return v, nil
	}))
	vm.primitive(c, "includesKey:", prim1(func(vm *VM, _, k Value) (Value, error) {
		if !k.IsSymbol() {
			return False, nil
		}
		_, ok := vm.globals[k.SymbolID()]
		return FromBool(ok), nil
	}))
	vm.primitive(c, "removeKey:", prim1(func(vm *VM, _, k Value) (Value, error) {
		id, err := key(vm, k)
		if err != nil {
			return Nil, err
		}
		v, ok := vm.globals[id]
		if !ok {
			return Nil, newLanguageError("Error", "key not found: #%s", vm.Symbols.Name(id))
		}
		if vm.Classes.Lookup(vm.Symbols.Name(id)) != nil {
			return Nil, newLanguageError("Error", "#%s names a class; use removeClass", vm.Symbols.Name(id))
		}
		delete(vm.globals, id)
		return v, nil
	}))
	vm.primitive(c, "size", prim0(func(vm *VM, _ Value) (Value, error) {
		return FromSmallInt(int64(len(vm.globals))), nil
	}))

	vm.primitive(c, "garbageCollect", prim0(func(vm *VM, recv Value) (Value, error) {
		vm.heap.majorGC()
		return recv, nil
	}))
	vm.primitive(c, "garbageCollectYoung", prim0(func(vm *VM, recv Value) (Value, error) {
		vm.heap.minorGC()
		return recv, nil
	}))
	vm.primitive(c, "removeClassNamed:", prim1(func(vm *VM, recv, name Value) (Value, error) {
		n, ok := vm.stringValue(name)
		if !ok {
			return Nil, invalidArgument("class name must be a Symbol, got %s", vm.printString(name))
		}
		return recv, vm.removeClass(n)
	}))
}
