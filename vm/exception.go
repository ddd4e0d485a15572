package vm

// ---------------------------------------------------------------------------
// Exception handling
// ---------------------------------------------------------------------------

// on:do: runs the receiver block in a context carrying a handler record.
// Signalling walks the sender chain from the active context looking for an
// active record whose class includes the exception's class. The chain is
// then unwound to the protected context, the record is disabled and the
// handler block runs with that context as its sender; whatever the handler
// block answers becomes the value of on:do:.
//
// Handlers have return semantics only. Unwinding never runs code in the
// contexts it abandons.

// signal searches for a handler of exc and transfers control to it. When
// record is set the active context is stored as the signaller. Always
// returns errUnwind.
func (i *interpreter) signal(exc Value, record bool) error {
	vm := i.vm
	class := vm.classOf(exc)
	if record && i.active != nil {
		vm.setField(exc, "signalContext", i.active.self)
	}
	for ctx := i.active; ctx != nil; ctx = ctx.sender {
		h := ctx.handler
		if h == nil || !h.active || !vm.handles(h.class, class) {
			continue
		}
		handler := ctx
		vm.setField(exc, "handlerContext", handler.self)
		log.Debugf("vm %s: %s handled by %s", vm.ID, class.Name, handler.describe())
		return i.requestUnwind(handler, exc, func() error {
			return i.runHandler(handler, exc)
		})
	}
	text := vm.messageText(exc)
	log.Debugf("vm %s: unhandled %s: %s", vm.ID, class.Name, text)
	return i.abort(&UnhandledError{Class: class.Name, MessageText: text, Exception: exc}, exc)
}

// runHandler starts the handler block of the protected context h, which is
// active again after the unwind.
func (i *interpreter) runHandler(h *Context, exc Value) error {
	rec := h.handler
	rec.active = false
	bc := i.vm.closureOf(rec.block)
	if bc == nil {
		// A non-block handler is its own value.
		i.returnFrom(h, rec.block)
		return nil
	}
	var args []Value
	switch bc.block.Arity {
	case 0:
	case 1:
		args = []Value{exc}
	default:
		return wrongArgumentCount(1, bc.block.Arity)
	}
	err := i.activateBlock(rec.block, args, h)
	if err == errActivated {
		i.active.returnTo = h
		return nil
	}
	return err
}

// handlerOf returns the protected context currently handling exc.
func (i *interpreter) handlerOf(exc Value) (*Context, error) {
	h := i.vm.contextOf(i.vm.field(exc, "handlerContext"))
	if h == nil || h.dead || h.handler == nil || !i.onChain(h) {
		return nil, newLanguageError("Error", "%s is not being handled", i.vm.classOf(exc).Name)
	}
	return h, nil
}

// handles reports whether a handler registered for handlerClass catches an
// exception of class c.
func (vm *VM) handles(handlerClass Value, c *Class) bool {
	hc := vm.classFromObject(handlerClass)
	return hc != nil && c.IsSubclassOf(hc)
}

// newException instantiates the exception class named by le and fills in
// its message text and fields. Unknown or non-exception class names fall
// back to Error.
func (vm *VM) newException(le *LanguageError) Value {
	class := vm.Classes.Lookup(le.Class)
	if class == nil || !class.IsSubclassOf(vm.ExceptionClass) {
		class = vm.ErrorClass
	}
	mark := vm.heap.pushRoots()
	for _, v := range le.Fields {
		vm.heap.pushRoots(v)
	}
	exc := vm.heap.allocate(class, class.Format, class.NumSlots, 0, nil, 0)
	vm.heap.pushRoots(exc)
	if le.Message != "" {
		vm.setField(exc, "messageText", vm.newString(le.Message))
	}
	for name, v := range le.Fields {
		vm.setField(exc, name, v)
	}
	vm.heap.popRoots(mark)
	return exc
}

// messageText returns the exception's message text as a Go string.
func (vm *VM) messageText(exc Value) string {
	text := vm.field(exc, "messageText")
	if s, ok := vm.stringValue(text); ok {
		return s
	}
	return ""
}

// description is the message text, or the class name when there is none.
func (vm *VM) description(exc Value) string {
	if s := vm.messageText(exc); s != "" {
		return s
	}
	return vm.classOf(exc).Name
}

// ---------------------------------------------------------------------------
// Exception primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerExceptionPrimitives() {
	exc := vm.ExceptionClass
	i := vm.interp

	vm.primitive(exc, "signal", prim0(func(vm *VM, recv Value) (Value, error) {
		return Nil, i.signal(recv, true)
	}))
	vm.primitive(exc, "signal:", prim1(func(vm *VM, recv, text Value) (Value, error) {
		vm.setField(recv, "messageText", text)
		return Nil, i.signal(recv, true)
	}))
	vm.primitive(exc, "pass", prim0(func(vm *VM, recv Value) (Value, error) {
		return Nil, i.signal(recv, false)
	}))
	vm.primitive(exc, "outer", prim0(func(vm *VM, recv Value) (Value, error) {
		return Nil, i.signal(recv, false)
	}))
	vm.primitive(exc, "messageText", prim0(func(vm *VM, recv Value) (Value, error) {
		if text := vm.field(recv, "messageText"); text != Nil {
			return text, nil
		}
		return vm.newString(vm.description(recv)), nil
	}))
	vm.primitive(exc, "messageText:", prim1(func(vm *VM, recv, text Value) (Value, error) {
		vm.setField(recv, "messageText", text)
		return recv, nil
	}))
	vm.primitive(exc, "description", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(vm.description(recv)), nil
	}))
	vm.primitive(exc, "signalerContext", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.field(recv, "signalContext"), nil
	}))
	vm.primitive(exc, "return:", prim1(func(vm *VM, recv, v Value) (Value, error) {
		h, err := i.handlerOf(recv)
		if err != nil {
			return Nil, err
		}
		return Nil, i.requestUnwind(h, v, func() error {
			i.returnFrom(h, v)
			return nil
		})
	}))
	vm.primitive(exc, "return", prim0(func(vm *VM, recv Value) (Value, error) {
		h, err := i.handlerOf(recv)
		if err != nil {
			return Nil, err
		}
		return Nil, i.requestUnwind(h, Nil, func() error {
			i.returnFrom(h, Nil)
			return nil
		})
	}))
	vm.primitive(exc, "retry", prim0(func(vm *VM, recv Value) (Value, error) {
		h, err := i.handlerOf(recv)
		if err != nil {
			return Nil, err
		}
		return Nil, i.requestUnwind(h, Nil, func() error {
			h.reset()
			h.handler.active = true
			return nil
		})
	}))
	vm.primitive(exc, "resume:", prim1(func(vm *VM, recv, _ Value) (Value, error) {
		return Nil, newLanguageError("Error", "%s is not resumable", vm.classOf(recv).Name)
	}))

	// Exception class>>signal and signal: create and signal in one step.
	vm.classPrimitive(exc, "signal", prim0(func(vm *VM, recv Value) (Value, error) {
		class := vm.classFromObject(recv)
		e := vm.heap.allocate(class, class.Format, class.NumSlots, 0, nil, 0)
		return Nil, i.signal(e, true)
	}))
	vm.classPrimitive(exc, "signal:", prim1(func(vm *VM, recv, text Value) (Value, error) {
		class := vm.classFromObject(recv)
		e := vm.heap.allocate(class, class.Format, class.NumSlots, 0, nil, 0)
		vm.setField(e, "messageText", text)
		return Nil, i.signal(e, true)
	}))

	// Field readers for the condition-specific variables.
	for _, name := range []string{"DoesNotUnderstand", "IndexOutOfRange", "ImmutableObject", "ZeroDivide", "NonBooleanReceiver", "NonLocalReturnToDeadContext"} {
		vm.installReaders(vm.Classes.Lookup(name))
	}

	vm.primitive(vm.BlockClosureClass, "on:do:", prim2(func(vm *VM, recv, class, handler Value) (Value, error) {
		if vm.classFromObject(class) == nil {
			return Nil, invalidArgument("on:do: expects an exception class, got %s", vm.printString(class))
		}
		err := i.activateBlock(recv, nil, i.active)
		if err != errActivated {
			return Nil, err
		}
		i.active.handler = &handlerRecord{class: class, block: handler, active: true}
		return Nil, errActivated
	}))
}

// installReaders installs a reader primitive for every instance variable
// class declares.
func (vm *VM) installReaders(class *Class) {
	if class == nil {
		return
	}
	for _, name := range class.InstVars {
		idx := class.InstVarIndex(name)
		vm.primitive(class, name, prim0(func(vm *VM, recv Value) (Value, error) {
			return vm.heap.Fetch(recv, idx)
		}))
	}
}
