package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Message dispatch
// ---------------------------------------------------------------------------

// Every computation funnels through send: the receiver and arguments sit on
// the caller's evaluation stack, the selector is resolved against the
// receiver's class (send-site cache, then global cache, then the cold
// walk) and the method found either runs as a primitive or gets a new
// context.
//
// The result of a send is one of:
//   - nil: the result replaced receiver and arguments on the caller's stack
//   - errActivated: a new context is active; its return delivers the result
//   - errUnwind: control is being transferred down the context chain

// send dispatches selector to the receiver argc slots below the top of
// ctx's stack.
func (i *interpreter) send(ctx *Context, selector uint32, argc int, ic *InlineCache) error {
	recv := ctx.peek(argc)
	class := i.vm.classOf(recv)
	m := i.lookup(class, selector, ic)
	if m == nil {
		return i.doesNotUnderstand(ctx, class, recv, selector, argc)
	}
	return i.invoke(ctx, m, recv, argc)
}

// sendSuper starts the lookup above the class defining the running method.
func (i *interpreter) sendSuper(ctx *Context, selector uint32, argc int, ic *InlineCache) error {
	recv := ctx.peek(argc)
	defining := ctx.method.class
	if defining == nil || defining.Superclass == nil {
		return i.doesNotUnderstand(ctx, i.vm.classOf(recv), recv, selector, argc)
	}
	m := i.lookup(defining.Superclass, selector, ic)
	if m == nil {
		return i.doesNotUnderstand(ctx, defining.Superclass, recv, selector, argc)
	}
	return i.invoke(ctx, m, recv, argc)
}

// lookup resolves selector through the send-site cache and the global
// method cache.
func (i *interpreter) lookup(class *Class, selector uint32, ic *InlineCache) Method {
	mc := i.vm.cache
	if ic != nil {
		if m := ic.Lookup(class, mc.Epoch()); m != nil && m.Selector() == selector {
			mc.check(class, selector, m)
			return m
		}
	}
	m := mc.Lookup(class, selector)
	if ic != nil {
		ic.Update(class, m, mc.Epoch())
	}
	return m
}

// invoke runs m for the receiver argc slots below the top of ctx's stack.
func (i *interpreter) invoke(ctx *Context, m Method, recv Value, argc int) error {
	args := ctx.stack[len(ctx.stack)-argc:]
	switch m := m.(type) {
	case *PrimitiveMethod:
		result, err := m.Fn(i.vm, recv, args)
		if err == ErrPrimitiveFailed {
			err = newLanguageError("PrimitiveFailed", "primitive %s failed for %s", m.Name, i.vm.printString(recv))
		}
		return i.complete(ctx, argc, result, err)

	case *CompiledMethod:
		if m.Primitive != nil {
			result, err := m.Primitive(i.vm, recv, args)
			if err != ErrPrimitiveFailed {
				return i.complete(ctx, argc, result, err)
			}
		}
		err := i.activate(ctx, m, recv, args)
		if err == errActivated {
			ctx.popN(argc + 1)
		}
		return err
	}
	fatal(FatalInterpreter, "method of unknown kind %T", m)
	return nil
}

// complete finishes a primitive call on ctx's stack.
func (i *interpreter) complete(ctx *Context, argc int, result Value, err error) error {
	switch err {
	case nil:
		ctx.popN(argc + 1)
		ctx.push(result)
		return nil
	case errActivated:
		// The primitive linked a new context above ctx; its operands are
		// no longer needed here.
		ctx.popN(argc + 1)
		return errActivated
	case errUnwind:
		return errUnwind
	}
	return i.raise(err)
}

// doesNotUnderstand replaces the arguments with a Message and sends
// doesNotUnderstand: to the original receiver.
func (i *interpreter) doesNotUnderstand(ctx *Context, class *Class, recv Value, selector uint32, argc int) error {
	vm := i.vm
	args := append([]Value(nil), ctx.stack[len(ctx.stack)-argc:]...)
	msg := vm.newMessage(selector, args)
	ctx.popN(argc)
	ctx.push(msg)

	dnu := vm.cache.Lookup(class, vm.selDoesNotUnderstand)
	if dnu == nil {
		fatal(FatalInterpreter, "%s does not understand #doesNotUnderstand:", class.Name)
	}
	return i.invoke(ctx, dnu, recv, 1)
}

// ---------------------------------------------------------------------------
// Go-level sends
// ---------------------------------------------------------------------------

// send runs selector to completion from Go. It is the re-entry point for
// primitives and the body of the public Send; the caller holds vm.mu.
//
// A base context stands in for the Go caller: the callee returns into it
// and the loop stops there. When invoked from a primitive the base's sender
// is the active context, so unwinds and handler searches see one chain.
func (vm *VM) send(receiver Value, selector uint32, args []Value) (Value, error) {
	i := vm.interp

	mark := vm.heap.pushRoots(receiver)
	vm.heap.pushRoots(args...)
	base := vm.newContext(nil, nil, receiver, nil, 0)
	vm.heap.popRoots(mark)

	base.base = true
	base.sender = i.active
	if i.active != nil {
		base.depth = i.active.depth
	}
	base.push(receiver)
	for _, a := range args {
		base.push(a)
	}
	i.active = base

	i.check(i.send(base, selector, len(args), nil))
	if err := i.run(base); err != nil {
		return Nil, err
	}
	result := base.pop()
	base.dead = true
	i.active = base.sender
	return result, nil
}

// ---------------------------------------------------------------------------
// Public entry points
// ---------------------------------------------------------------------------

// Send sends selector to receiver with args and runs it to completion.
//
// An exception that no handler catches ends the send with an
// *UnhandledError. The result is only guaranteed to stay live until the
// next call into the VM unless it is registered with AddRoot.
func (vm *VM) Send(receiver Value, selector string, args ...Value) (Value, error) {
	if want := SelectorArity(selector); len(args) != want {
		return Nil, fmt.Errorf("%w: #%s takes %d, got %d", ErrArity, selector, want, len(args))
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.send(receiver, vm.Symbols.Intern(selector), args)
}

// SendUnary sends a unary message.
func (vm *VM) SendUnary(receiver Value, selector string) (Value, error) {
	if KindOf(selector) != UnarySelector {
		return Nil, fmt.Errorf("%w: #%s is not a unary selector", ErrArity, selector)
	}
	return vm.Send(receiver, selector)
}

// SendBinary sends a binary (operator) message.
func (vm *VM) SendBinary(receiver Value, selector string, arg Value) (Value, error) {
	if KindOf(selector) != BinarySelector {
		return Nil, fmt.Errorf("%w: #%s is not a binary selector", ErrArity, selector)
	}
	return vm.Send(receiver, selector, arg)
}

// SendKeyword sends a keyword message with one argument per keyword part.
func (vm *VM) SendKeyword(receiver Value, selector string, args ...Value) (Value, error) {
	if KindOf(selector) != KeywordSelector {
		return Nil, fmt.Errorf("%w: #%s is not a keyword selector", ErrArity, selector)
	}
	return vm.Send(receiver, selector, args...)
}

// Interrupt asks the running send to stop at the next instruction boundary.
// It may be called from any goroutine; the send returns ErrInterrupted.
func (vm *VM) Interrupt() {
	vm.interrupted.Store(true)
}
