package vm

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// interpreter executes bytecode over the heap-allocated context chain. It
// keeps no Go-side frame stack: sends and block activations link a new
// context and switch active, returns switch back. The Go stack is only
// re-entered when a primitive sends a message from Go.
type interpreter struct {
	vm     *VM
	active *Context
	unwind *unwindRequest
}

// unwindRequest is a pending transfer of control down the context chain.
// Every context between active and target is marked dead and abandoned
// without running further code; then runs with target active. A nil
// target aborts the outermost send with err.
type unwindRequest struct {
	target *Context
	value  Value
	then   func() error
	err    error
}

func newInterpreter(vm *VM) *interpreter {
	return &interpreter{vm: vm}
}

// roots visits the values the interpreter holds outside the heap.
func (i *interpreter) roots(visit func(Value)) {
	if i.active != nil {
		visit(i.active.self)
	}
	if u := i.unwind; u != nil {
		visit(u.value)
		if u.target != nil {
			visit(u.target.self)
		}
	}
}

// requestUnwind records an unwind to target. The caller must return
// errUnwind so the loop processes it before executing anything else.
func (i *interpreter) requestUnwind(target *Context, value Value, then func() error) error {
	i.unwind = &unwindRequest{target: target, value: value, then: then}
	return errUnwind
}

// abort unwinds the whole chain of the outermost send, which then returns
// err.
func (i *interpreter) abort(err error, value Value) error {
	i.unwind = &unwindRequest{value: value, err: err}
	return errUnwind
}

// processUnwind kills contexts from active towards the pending target. If
// the base of the current run lies in between, the run ends: nested runs
// return errUnwind so their Go caller propagates it, the outermost run
// returns the abort error.
func (i *interpreter) processUnwind(base *Context) error {
	u := i.unwind
	for ctx := i.active; ctx != u.target; ctx = ctx.sender {
		if ctx == nil {
			fatal(FatalInterpreter, "unwind target is not on the context chain")
		}
		ctx.dead = true
		if ctx == base {
			i.active = base.sender
			if base.sender != nil {
				return errUnwind
			}
			i.unwind = nil
			if u.target != nil {
				fatal(FatalInterpreter, "unwind target is not on the context chain")
			}
			return u.err
		}
	}
	i.active = u.target
	i.unwind = nil
	if u.then == nil {
		return nil
	}
	mark := i.vm.heap.pushRoots(u.value)
	err := u.then()
	i.vm.heap.popRoots(mark)
	i.check(err)
	return nil
}

// check routes an error produced while executing an instruction. Control
// sentinels need no further work; anything else is signalled.
func (i *interpreter) check(err error) {
	if err == nil || err == errActivated || err == errUnwind {
		return
	}
	i.raise(err)
}

// onChain reports whether ctx is reachable through the sender chain of the
// active context.
func (i *interpreter) onChain(ctx *Context) bool {
	for cur := i.active; cur != nil; cur = cur.sender {
		if cur == ctx {
			return true
		}
	}
	return false
}

// returnFrom ends ctx and pushes v onto its sender. A handler block returns
// from the protected context it is handling for.
func (i *interpreter) returnFrom(ctx *Context, v Value) {
	if ctx.returnTo != nil {
		ctx.dead = true
		ctx = ctx.returnTo
	}
	ctx.dead = true
	if ctx.sender == nil {
		fatal(FatalInterpreter, "return from %s with no sender", ctx.describe())
	}
	i.active = ctx.sender
	i.active.push(v)
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

// run executes until base becomes active again. A nil result means the
// value is on base's stack.
func (i *interpreter) run(base *Context) error {
	vm := i.vm
	for {
		if i.unwind != nil {
			if err := i.processUnwind(base); err != nil {
				return err
			}
			continue
		}
		ctx := i.active
		if ctx == base {
			return nil
		}
		if vm.interrupted.Load() {
			vm.interrupted.Store(false)
			log.Infof("vm %s: interrupted in %s", vm.ID, ctx.describe())
			i.abort(ErrInterrupted, Nil)
			continue
		}

		bc := ctx.code()
		if ctx.pc >= len(bc) {
			// Falling off the end: methods answer self, blocks their last value.
			if ctx.isBlock() {
				v := Nil
				if len(ctx.stack) > 0 {
					v = ctx.top()
				}
				i.returnFrom(ctx, v)
			} else {
				i.returnFrom(ctx, ctx.receiver)
			}
			continue
		}

		pc := ctx.pc
		op := Opcode(bc[pc])
		ctx.pc++

		switch op {
		// --- Stack operations ---
		case OpNOP:

		case OpPOP:
			ctx.pop()

		case OpDUP:
			ctx.push(ctx.top())

		// --- Push constants ---
		case OpPushNil:
			ctx.push(Nil)

		case OpPushTrue:
			ctx.push(True)

		case OpPushFalse:
			ctx.push(False)

		case OpPushSelf:
			ctx.push(ctx.receiver)

		case OpPushContext:
			ctx.push(ctx.self)

		case OpPushInt8:
			ctx.push(FromSmallInt(int64(int8(bc[ctx.pc]))))
			ctx.pc++

		case OpPushInt32:
			n := int32(binary.LittleEndian.Uint32(bc[ctx.pc:]))
			ctx.pc += 4
			ctx.push(FromSmallInt(int64(n)))

		case OpPushLiteral:
			idx := binary.LittleEndian.Uint16(bc[ctx.pc:])
			ctx.pc += 2
			ctx.push(ctx.method.Literals[idx])

		case OpPushFloat:
			bits := binary.LittleEndian.Uint64(bc[ctx.pc:])
			ctx.pc += 8
			ctx.push(FromFloat64(math.Float64frombits(bits)))

		// --- Variables ---
		case OpPushTemp:
			ctx.push(ctx.temps[bc[ctx.pc]])
			ctx.pc++

		case OpStoreTemp:
			ctx.temps[bc[ctx.pc]] = ctx.top()
			ctx.pc++

		case OpPushIvar:
			idx := int(bc[ctx.pc])
			ctx.pc++
			v, err := vm.heap.Fetch(ctx.receiver, idx)
			if err != nil {
				i.check(i.ivarError(ctx.receiver, err))
				continue
			}
			ctx.push(v)

		case OpStoreIvar:
			idx := int(bc[ctx.pc])
			ctx.pc++
			if err := vm.heap.Store(ctx.receiver, idx, ctx.top()); err != nil {
				i.check(i.ivarError(ctx.receiver, err))
			}

		case OpPushOuterTemp:
			outer := ctx.outerAt(int(bc[ctx.pc]))
			idx := bc[ctx.pc+1]
			ctx.pc += 2
			ctx.push(outer.temps[idx])

		case OpStoreOuterTemp:
			outer := ctx.outerAt(int(bc[ctx.pc]))
			idx := bc[ctx.pc+1]
			ctx.pc += 2
			outer.temps[idx] = ctx.top()

		case OpPushGlobal:
			idx := binary.LittleEndian.Uint16(bc[ctx.pc:])
			ctx.pc += 2
			v, ok := vm.globals[ctx.method.Literals[idx].SymbolID()]
			if !ok {
				v = Nil
			}
			ctx.push(v)

		case OpStoreGlobal:
			idx := binary.LittleEndian.Uint16(bc[ctx.pc:])
			ctx.pc += 2
			vm.globals[ctx.method.Literals[idx].SymbolID()] = ctx.top()

		// --- Sends ---
		case OpSend, OpSendKeyword, OpSendSuper, OpSendUnary, OpSendBinary:
			idx := binary.LittleEndian.Uint16(bc[ctx.pc:])
			argc := 0
			switch op {
			case OpSendUnary:
				ctx.pc += 2
			case OpSendBinary:
				argc = 1
				ctx.pc += 2
			default:
				argc = int(bc[ctx.pc+2])
				ctx.pc += 3
			}
			selector := ctx.method.Literals[idx].SymbolID()
			ic := ctx.caches().GetOrCreate(pc)
			if op == OpSendSuper {
				i.check(i.sendSuper(ctx, selector, argc, ic))
				continue
			}
			i.check(i.send(ctx, selector, argc, ic))

		case OpSendAdd, OpSendSub, OpSendMul, OpSendLT, OpSendGT,
			OpSendLE, OpSendGE, OpSendEQ, OpSendNE:
			if i.arithmetic(ctx, op) {
				continue
			}
			i.check(i.send(ctx, vm.specialSelectors[op], 1, ctx.caches().GetOrCreate(pc)))

		case OpSendIdentical:
			b := ctx.pop()
			a := ctx.pop()
			ctx.push(FromBool(a == b))

		// --- Control flow ---
		case OpJump:
			offset := int16(binary.LittleEndian.Uint16(bc[ctx.pc:]))
			ctx.pc += 2 + int(offset)

		case OpJumpTrue, OpJumpFalse:
			offset := int16(binary.LittleEndian.Uint16(bc[ctx.pc:]))
			ctx.pc += 2
			cond := ctx.pop()
			if !cond.IsBool() {
				i.check(i.nonBoolean(cond))
				continue
			}
			if (cond == True) == (op == OpJumpTrue) {
				ctx.pc += int(offset)
			}

		// --- Returns ---
		case OpReturnTop:
			i.returnFrom(ctx, ctx.pop())

		case OpReturnSelf:
			i.returnFrom(ctx, ctx.receiver)

		case OpReturnNil:
			i.returnFrom(ctx, Nil)

		case OpNonLocalReturn:
			v := ctx.pop()
			if !ctx.isBlock() {
				i.returnFrom(ctx, v)
				continue
			}
			i.check(i.nonLocalReturn(ctx, v))

		// --- Blocks ---
		case OpCreateBlock:
			idx := binary.LittleEndian.Uint16(bc[ctx.pc:])
			ctx.pc += 2
			ctx.push(vm.newBlockClosure(ctx.method, ctx.method.Blocks[idx], ctx))

		case OpSendValue:
			argc := int(bc[ctx.pc])
			ctx.pc++
			i.check(i.sendValue(ctx, argc, pc))

		// --- Object creation ---
		case OpCreateArray:
			n := int(bc[ctx.pc])
			ctx.pc++
			arr := vm.heap.allocate(vm.ArrayClass, FormatIndexable, 0, n, nil, 0)
			base := len(ctx.stack) - n
			for k := 0; k < n; k++ {
				vm.heap.storeRaw(arr, k, ctx.stack[base+k])
			}
			ctx.popN(n)
			ctx.push(arr)

		default:
			fatal(FatalInterpreter, "unknown opcode 0x%02X at pc %d in %s", byte(op), pc, ctx.describe())
		}
	}
}

// arithmetic runs the SmallInteger fast path of a special send. It reports
// false when the operands or the result need the full send.
func (i *interpreter) arithmetic(ctx *Context, op Opcode) bool {
	a, b := ctx.peek(1), ctx.peek(0)
	if !a.IsSmallInt() || !b.IsSmallInt() {
		return false
	}
	x, y := a.SmallInt(), b.SmallInt()
	var result Value
	switch op {
	case OpSendAdd:
		r, ok := TryFromSmallInt(x + y)
		if !ok {
			return false
		}
		result = r
	case OpSendSub:
		r, ok := TryFromSmallInt(x - y)
		if !ok {
			return false
		}
		result = r
	case OpSendMul:
		p, ok := mulSmall(x, y)
		if !ok {
			return false
		}
		result = p
	case OpSendLT:
		result = FromBool(x < y)
	case OpSendGT:
		result = FromBool(x > y)
	case OpSendLE:
		result = FromBool(x <= y)
	case OpSendGE:
		result = FromBool(x >= y)
	case OpSendEQ:
		result = FromBool(x == y)
	case OpSendNE:
		result = FromBool(x != y)
	default:
		return false
	}
	ctx.popN(2)
	ctx.push(result)
	return true
}

// mulSmall multiplies two SmallIntegers, reporting overflow of the
// SmallInteger range.
func mulSmall(x, y int64) (Value, bool) {
	if x == 0 || y == 0 {
		return FromSmallInt(0), true
	}
	p := x * y
	if p/y != x {
		return Nil, false
	}
	return TryFromSmallInt(p)
}

func (i *interpreter) ivarError(receiver Value, err error) error {
	if receiver.IsObject() {
		return err
	}
	return invalidArgument("%s has no instance variables", i.vm.printString(receiver))
}

func (i *interpreter) nonBoolean(v Value) error {
	le := newLanguageError("NonBooleanReceiver", "%s is not a Boolean", i.vm.printString(v))
	le.Fields = map[string]Value{"object": v}
	return le
}

// nonLocalReturn returns v from the home method of the block context ctx.
// The home must still be live and on the sender chain.
func (i *interpreter) nonLocalReturn(ctx *Context, v Value) error {
	home := ctx.home
	if home == nil || home.dead || !i.onChain(home) {
		le := newLanguageError("NonLocalReturnToDeadContext", "cannot return from %s: its activation has ended", ctx.describe())
		le.Fields = map[string]Value{"value": v}
		return le
	}
	return i.requestUnwind(home, v, func() error {
		i.returnFrom(home, v)
		return nil
	})
}

// sendValue invokes the block argc slots below the top directly, or falls
// back to an ordinary value/value:... send for anything else.
func (i *interpreter) sendValue(ctx *Context, argc int, pc int) error {
	recv := ctx.peek(argc)
	if i.vm.closureOf(recv) != nil {
		args := ctx.stack[len(ctx.stack)-argc:]
		err := i.activateBlock(recv, args, ctx)
		if err == errActivated {
			ctx.popN(argc + 1)
		}
		return err
	}
	selector := "value"
	if argc > 0 {
		selector = strings.Repeat("value:", argc)
	}
	return i.send(ctx, i.vm.Symbols.Intern(selector), argc, ctx.caches().GetOrCreate(pc))
}

// ---------------------------------------------------------------------------
// Activation
// ---------------------------------------------------------------------------

// activate pushes a context for method m. The receiver and arguments are
// still on the caller's stack; the caller pops them on errActivated.
func (i *interpreter) activate(caller *Context, m *CompiledMethod, recv Value, args []Value) error {
	if caller.depth+1 > i.vm.opts.MaxDepth {
		return i.raise(stackOverflow(i.vm.opts.MaxDepth))
	}
	ctx := i.vm.newContext(m, nil, recv, args, m.NumTemps)
	ctx.home = ctx
	ctx.sender = caller
	ctx.depth = caller.depth + 1
	i.active = ctx
	return errActivated
}

// activateBlock pushes a context running closure with sender as its sender.
// The closure and args must be reachable from sender.
func (i *interpreter) activateBlock(closure Value, args []Value, sender *Context) error {
	bc := i.vm.closureOf(closure)
	if bc == nil {
		return invalidArgument("%s is not a block", i.vm.printString(closure))
	}
	if len(args) != bc.block.Arity {
		return wrongArgumentCount(bc.block.Arity, len(args))
	}
	if sender.depth+1 > i.vm.opts.MaxDepth {
		return i.raise(stackOverflow(i.vm.opts.MaxDepth))
	}
	ctx := i.vm.newContext(bc.method, bc.block, bc.receiver, args, bc.block.NumTemps)
	ctx.closure = closure
	ctx.outer = bc.outer
	ctx.home = bc.outer.home
	ctx.sender = sender
	ctx.depth = sender.depth + 1
	i.active = ctx
	return errActivated
}

func stackOverflow(limit int) *LanguageError {
	return newLanguageError("StackOverflow", "call depth exceeded %d", limit)
}

// ---------------------------------------------------------------------------
// Errors raised from Go
// ---------------------------------------------------------------------------

// raise signals err as a Smalltalk exception. A *LanguageError names its
// exception class; ErrPrimitiveFailed becomes PrimitiveFailed and any other
// Go error becomes a plain Error. Always returns errUnwind.
func (i *interpreter) raise(err error) error {
	if err == errUnwind {
		return err
	}
	if errors.Is(err, ErrInterrupted) {
		return i.abort(err, Nil)
	}
	var le *LanguageError
	if !errors.As(err, &le) {
		if errors.Is(err, ErrPrimitiveFailed) {
			le = newLanguageError("PrimitiveFailed", "%v", err)
		} else {
			le = &LanguageError{Class: "Error", Message: err.Error()}
		}
	}
	exc := i.vm.newException(le)
	return i.signal(exc, true)
}
