package vm

// registerMessagePrimitives registers primitives on MessageClass.
func (vm *VM) registerMessagePrimitives() {
	c := vm.MessageClass

	// selector, arguments
	vm.installReaders(c)

	// sendTo: anObject - re-send the message to another object
	vm.primitive(c, "sendTo:", prim1(func(vm *VM, recv, target Value) (Value, error) {
		sel := vm.field(recv, "selector")
		if !sel.IsSymbol() {
			return Nil, invalidArgument("message has no selector")
		}
		args, _ := vm.arrayElements(vm.field(recv, "arguments"))
		return vm.perform(target, sel.SymbolID(), args)
	}))
}
