package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Kernel installation
// ---------------------------------------------------------------------------

// installKernel installs the kernel methods on the bootstrapped classes.
// Most are primitives; loops and the overflow paths of SmallInteger
// arithmetic are bytecode so they run on the context chain like any other
// method.
func (vm *VM) installKernel() {
	vm.registerObjectPrimitives()
	vm.registerBehaviorPrimitives()
	vm.registerBooleanPrimitives()
	vm.registerIntegerPrimitives()
	vm.registerFloatPrimitives()
	vm.registerCharacterPrimitives()
	vm.registerStringPrimitives()
	vm.registerSymbolPrimitives()
	vm.registerArrayPrimitives()
	vm.registerMessagePrimitives()
	vm.registerBlockPrimitives()
	vm.registerContextPrimitives()
	vm.registerWeakReferencePrimitives()
	vm.registerSystemPrimitives()
	vm.registerExceptionPrimitives()
}

// kernelMethod assembles a bytecode method with locals extra temps and
// installs it in class. prim, if set, runs first and falls back to the
// bytecode on ErrPrimitiveFailed.
func (vm *VM) kernelMethod(class *Class, selector string, locals int, prim PrimitiveFunc,
	body func(m *CompiledMethodBuilder, b *BytecodeBuilder)) {

	mb := NewCompiledMethodBuilder(selector, SelectorArity(selector))
	for k := 0; k < locals; k++ {
		mb.AddLocal()
	}
	if prim != nil {
		name := class.Name + ">>" + selector
		mb.SetPrimitive(name, prim)
		vm.primitives[name] = prim
	}
	body(mb, mb.Bytecode())
	if err := vm.installMethod(class, mb.Build()); err != nil {
		fatal(FatalInterpreter, "kernel method %s>>%s: %v", class.Name, selector, err)
	}
}

// tailValue evaluates block in place of the running primitive: the block
// context returns straight into the primitive's caller. A non-block with no
// arguments is its own value.
func (vm *VM) tailValue(block Value, args ...Value) (Value, error) {
	if vm.closureOf(block) == nil {
		if len(args) == 0 {
			return block, nil
		}
		return Nil, invalidArgument("%s is not a block", vm.printString(block))
	}
	i := vm.interp
	return Nil, i.activateBlock(block, args, i.active)
}

// selectorArg returns the selector id named by a Symbol or String argument.
func (vm *VM) selectorArg(v Value) (uint32, error) {
	if v.IsSymbol() {
		return v.SymbolID(), nil
	}
	if s, ok := vm.stringValue(v); ok {
		return vm.Symbols.Intern(s), nil
	}
	return 0, invalidArgument("%s is not a selector", vm.printString(v))
}

// perform sends selector with args from inside a primitive.
func (vm *VM) perform(recv Value, sel uint32, args []Value) (Value, error) {
	name := vm.Symbols.Name(sel)
	if want := SelectorArity(name); want != len(args) {
		return Nil, wrongArgumentCount(want, len(args))
	}
	return vm.send(recv, sel, args)
}

// intArg returns a SmallInteger argument as an int.
func intArg(v Value) (int, error) {
	if !v.IsSmallInt() {
		return 0, invalidArgument("%s is not a SmallInteger", describeImmediate(v))
	}
	return int(v.SmallInt()), nil
}

// splitNames parses a space-separated list of variable names.
func (vm *VM) splitNames(v Value) ([]string, error) {
	if v == Nil {
		return nil, nil
	}
	s, ok := vm.stringValue(v)
	if !ok {
		return nil, invalidArgument("variable names must be a String, got %s", vm.printString(v))
	}
	return strings.Fields(s), nil
}

// newStringArray allocates an Array of Strings.
func (vm *VM) newStringArray(names []string) Value {
	mark := vm.heap.pushRoots()
	elems := make([]Value, len(names))
	for k, n := range names {
		elems[k] = vm.newString(n)
		vm.heap.pushRoots(elems[k])
	}
	arr := vm.newArray(elems)
	vm.heap.popRoots(mark)
	return arr
}
