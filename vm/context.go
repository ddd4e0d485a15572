package vm

// ---------------------------------------------------------------------------
// Context: a heap-allocated activation record
// ---------------------------------------------------------------------------

// Context is the native payload of a FormatContext object. Contexts link
// through sender into the logical call stack; because each is its own heap
// object a block can keep its defining context alive after that context has
// returned.
//
// A method context is its own home. A block context's outer is the context
// that created the closure and its home is the outer chain's method context.
type Context struct {
	self     Value
	method   *CompiledMethod // home method, source of literals
	block    *BlockMethod    // nil for method contexts
	closure  Value           // the closure a block context runs
	receiver Value
	temps    []Value
	stack    []Value
	pc       int

	sender *Context
	outer  *Context
	home   *Context
	depth  int
	dead   bool

	// handler is set on the protected block context of on:do:.
	handler *handlerRecord
	// returnTo is set on handler block contexts: a local return from the
	// handler block returns from the protected context instead.
	returnTo *Context
	// base marks the bottom context of a Go-level send.
	base bool
}

// handlerRecord is the (exception class, handler block, context) triple an
// on:do: installs. The context is the one holding the record.
type handlerRecord struct {
	class  Value
	block  Value
	active bool
}

const contextStackHint = 8

func contextWords(numTemps int) int {
	return 8 + numTemps + contextStackHint
}

func (c *Context) code() []byte {
	if c.block != nil {
		return c.block.Bytecode
	}
	if c.method == nil {
		return nil
	}
	return c.method.Bytecode
}

func (c *Context) caches() *InlineCacheTable {
	if c.block != nil {
		return c.block.inlineCaches()
	}
	return c.method.inlineCaches()
}

func (c *Context) isBlock() bool { return c.block != nil }

func (c *Context) push(v Value) { c.stack = append(c.stack, v) }

func (c *Context) pop() Value {
	n := len(c.stack) - 1
	v := c.stack[n]
	c.stack[n] = Nil
	c.stack = c.stack[:n]
	return v
}

func (c *Context) top() Value { return c.stack[len(c.stack)-1] }

// peek returns the value n slots below the top.
func (c *Context) peek(n int) Value { return c.stack[len(c.stack)-1-n] }

func (c *Context) popN(n int) {
	for i := len(c.stack) - n; i < len(c.stack); i++ {
		c.stack[i] = Nil
	}
	c.stack = c.stack[:len(c.stack)-n]
}

// outerAt walks depth levels out through the lexical chain.
func (c *Context) outerAt(depth int) *Context {
	cur := c
	for ; depth > 0 && cur != nil; depth-- {
		cur = cur.outer
	}
	return cur
}

// reset rewinds a block context to its first instruction with fresh
// locals, keeping its arguments.
func (c *Context) reset() {
	c.pc = 0
	c.popN(len(c.stack))
	arity := 0
	if c.block != nil {
		arity = c.block.Arity
	} else if c.method != nil {
		arity = c.method.Arity
	}
	for i := arity; i < len(c.temps); i++ {
		c.temps[i] = Nil
	}
}

func (c *Context) trace(visit func(Value)) {
	visit(c.receiver)
	visit(c.closure)
	for _, v := range c.temps {
		visit(v)
	}
	for _, v := range c.stack {
		visit(v)
	}
	for _, link := range [...]*Context{c.sender, c.outer, c.home, c.returnTo} {
		if link != nil {
			visit(link.self)
		}
	}
	if c.handler != nil {
		visit(c.handler.class)
		visit(c.handler.block)
	}
	if c.method != nil {
		c.method.trace(visit)
	}
}

// describe names the context for printing and error messages.
func (c *Context) describe() string {
	switch {
	case c.base:
		return "<send>"
	case c.method == nil:
		return "<unknown>"
	case c.block != nil:
		return "[] in " + c.method.String()
	}
	return c.method.String()
}

// ---------------------------------------------------------------------------
// BlockClosure
// ---------------------------------------------------------------------------

// BlockClosure is the native payload of a FormatBlock object. It shares the
// temps of its outer context rather than copying them.
type BlockClosure struct {
	self     Value
	method   *CompiledMethod
	block    *BlockMethod
	outer    *Context
	receiver Value
}

func (b *BlockClosure) trace(visit func(Value)) {
	visit(b.receiver)
	if b.outer != nil {
		visit(b.outer.self)
	}
	if b.method != nil {
		b.method.trace(visit)
	}
}

// NumArgs returns the closure's argument count.
func (b *BlockClosure) NumArgs() int { return b.block.Arity }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// newContext allocates a context object. The receiver and args must already
// be reachable (typically from the caller's stack).
func (vm *VM) newContext(method *CompiledMethod, block *BlockMethod, receiver Value, args []Value, numTemps int) *Context {
	ctx := &Context{
		method:   method,
		block:    block,
		closure:  Nil,
		receiver: receiver,
		temps:    make([]Value, numTemps),
		stack:    make([]Value, 0, contextStackHint),
	}
	copy(ctx.temps, args)
	for i := len(args); i < numTemps; i++ {
		ctx.temps[i] = Nil
	}
	ctx.self = vm.heap.allocate(vm.ContextClass, FormatContext, 0, 0, ctx, contextWords(numTemps))
	return ctx
}

// newBlockClosure allocates a closure over outer.
func (vm *VM) newBlockClosure(method *CompiledMethod, block *BlockMethod, outer *Context) Value {
	bc := &BlockClosure{
		method:   method,
		block:    block,
		outer:    outer,
		receiver: outer.receiver,
	}
	bc.self = vm.heap.allocate(vm.BlockClosureClass, FormatBlock, 0, 0, bc, 6)
	return bc.self
}

// contextOf returns the Context behind a context object, or nil.
func (vm *VM) contextOf(v Value) *Context {
	if !v.IsObject() {
		return nil
	}
	ctx, _ := vm.heap.native(v).(*Context)
	return ctx
}

// closureOf returns the BlockClosure behind a block object, or nil.
func (vm *VM) closureOf(v Value) *BlockClosure {
	if !v.IsObject() {
		return nil
	}
	bc, _ := vm.heap.native(v).(*BlockClosure)
	return bc
}
