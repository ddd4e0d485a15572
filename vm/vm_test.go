package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// assemble builds a method for selector with locals extra temps.
func assemble(selector string, locals int, body func(m *CompiledMethodBuilder, b *BytecodeBuilder)) *CompiledMethod {
	mb := NewCompiledMethodBuilder(selector, SelectorArity(selector))
	for k := 0; k < locals; k++ {
		mb.AddLocal()
	}
	body(mb, mb.Bytecode())
	return mb.Build()
}

// block adds a block body to m and emits CREATE_BLOCK for it.
func block(m *CompiledMethodBuilder, b *BytecodeBuilder, arity, locals int, body func(bb *BytecodeBuilder)) {
	bm := NewBlockMethodBuilder(arity)
	for k := 0; k < locals; k++ {
		bm.AddLocal()
	}
	body(bm.Bytecode())
	b.EmitUint16(OpCreateBlock, m.AddBlock(bm.Build()))
}

// emitSend emits a send of selector using the opcode matching its shape.
func emitSend(vm *VM, m *CompiledMethodBuilder, b *BytecodeBuilder, selector string) {
	idx := m.AddSymbol(vm.Symbols, selector)
	switch KindOf(selector) {
	case UnarySelector:
		b.EmitUint16(OpSendUnary, idx)
	case BinarySelector:
		b.EmitUint16(OpSendBinary, idx)
	default:
		b.EmitSend(OpSendKeyword, idx, uint8(SelectorArity(selector)))
	}
}

// pushGlobal emits PUSH_GLOBAL name.
func pushGlobal(vm *VM, m *CompiledMethodBuilder, b *BytecodeBuilder, name string) {
	b.EmitUint16(OpPushGlobal, m.AddSymbol(vm.Symbols, name))
}

func mustInstall(t *testing.T, vm *VM, class *Class, m *CompiledMethod) {
	t.Helper()
	if err := vm.InstallMethod(class, m); err != nil {
		t.Fatalf("InstallMethod(%s>>%s): %v", class.Name, m.Name, err)
	}
}

func mustDefine(t *testing.T, vm *VM, name string, super *Class, ivars ...string) *Class {
	t.Helper()
	c, err := vm.DefineClass(name, super, ivars)
	if err != nil {
		t.Fatalf("DefineClass(%s): %v", name, err)
	}
	return c
}

func mustNew(t *testing.T, vm *VM, class *Class) Value {
	t.Helper()
	v, err := vm.Instantiate(class, 0)
	if err != nil {
		t.Fatalf("Instantiate(%s): %v", class.Name, err)
	}
	return v
}

func mustSend(t *testing.T, vm *VM, recv Value, selector string, args ...Value) Value {
	t.Helper()
	v, err := vm.Send(recv, selector, args...)
	if err != nil {
		t.Fatalf("Send #%s: %v", selector, err)
	}
	return v
}

// doIt installs body as UndefinedObject>>doIt and sends it to nil.
func doIt(vm *VM, locals int, body func(m *CompiledMethodBuilder, b *BytecodeBuilder)) (Value, error) {
	if err := vm.InstallMethod(vm.UndefinedObjectClass, assemble("doIt", locals, body)); err != nil {
		return Nil, err
	}
	return vm.Send(Nil, "doIt")
}

func mustDoIt(t *testing.T, vm *VM, locals int, body func(m *CompiledMethodBuilder, b *BytecodeBuilder)) Value {
	t.Helper()
	v, err := doIt(vm, locals, body)
	if err != nil {
		t.Fatalf("doIt: %v", err)
	}
	return v
}

func wantInt(t *testing.T, v Value, want int64) {
	t.Helper()
	if !v.IsSmallInt() || v.SmallInt() != want {
		t.Errorf("result = %s, want %d", describeImmediate(v), want)
	}
}

// wantUnhandled checks that err reports an unhandled exception of class.
func wantUnhandled(t *testing.T, err error, class string) *UnhandledError {
	t.Helper()
	var ue *UnhandledError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want unhandled %s", err, class)
	}
	if ue.Class != class {
		t.Fatalf("unhandled %s (%s), want %s", ue.Class, ue.MessageText, class)
	}
	return ue
}

// wantFatal runs fn and checks that it panics with a FatalError of kind.
func wantFatal(t *testing.T, kind FatalKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		fe, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("recovered %v, want *FatalError", r)
		}
		if fe.Kind != kind {
			t.Errorf("fatal kind = %s, want %s", fe.Kind, kind)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestNewVMBootstrapsKernelClasses(t *testing.T) {
	vm := NewVM()
	for _, name := range []string{
		"Object", "Behavior", "ClassDescription", "Class", "Metaclass",
		"UndefinedObject", "True", "False", "SmallInteger", "LargePositiveInteger",
		"Float", "Character", "Symbol", "String", "Array", "ByteArray", "Message",
		"BlockClosure", "Context", "WeakReference", "Exception", "Error",
		"DoesNotUnderstand", "ZeroDivide", "NonLocalReturnToDeadContext",
	} {
		c := vm.ClassNamed(name)
		if c == nil {
			t.Errorf("class %s not bootstrapped", name)
			continue
		}
		if g := vm.Global(name); g != c.Object() {
			t.Errorf("global %s does not hold the class object", name)
		}
	}
	if vm.Global("Smalltalk") == Nil {
		t.Error("Smalltalk global missing")
	}
}

func TestMetaclassLoop(t *testing.T) {
	vm := NewVM()
	obj := vm.ObjectClass

	if obj.Meta.Superclass != vm.ClassClass {
		t.Errorf("Object class superclass = %v, want Class", obj.Meta.Superclass)
	}
	if vm.ClassOf(obj.Object()) != obj.Meta {
		t.Error("class of Object should be Object class")
	}
	if vm.ClassOf(obj.Meta.Object()) != vm.MetaclassClass {
		t.Error("class of Object class should be Metaclass")
	}
	metaMeta := vm.ClassOf(vm.MetaclassClass.Object())
	if vm.ClassOf(metaMeta.Object()) != vm.MetaclassClass {
		t.Error("Metaclass class class should be Metaclass")
	}
	if !obj.Meta.IsMeta() || obj.IsMeta() {
		t.Error("IsMeta wrong")
	}
}

func TestImmediateClasses(t *testing.T) {
	vm := NewVM()
	tests := []struct {
		v    Value
		want *Class
	}{
		{FromSmallInt(3), vm.SmallIntegerClass},
		{FromFloat64(1.5), vm.FloatClass},
		{Nil, vm.UndefinedObjectClass},
		{True, vm.TrueClass},
		{False, vm.FalseClass},
		{vm.Symbol("foo"), vm.SymbolClass},
		{FromRune('x'), vm.CharacterClass},
	}
	for _, tt := range tests {
		if got := vm.ClassOf(tt.v); got != tt.want {
			t.Errorf("ClassOf(%s) = %v, want %v", describeImmediate(tt.v), got, tt.want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	vm := NewVMWithOptions(Options{MaxDepth: 77})
	opts := vm.Options()
	def := DefaultOptions()
	if opts.MaxDepth != 77 {
		t.Errorf("MaxDepth = %d, want 77", opts.MaxDepth)
	}
	if opts.YoungWords != def.YoungWords || opts.TenureAge != def.TenureAge {
		t.Errorf("zero options not defaulted: %+v", opts)
	}
}

func TestIndependentVMs(t *testing.T) {
	a, b := NewVM(), NewVM()
	if a.ID == b.ID {
		t.Error("VMs share an id")
	}
	mustDefine(t, a, "OnlyInA", nil)
	if b.ClassNamed("OnlyInA") != nil {
		t.Error("class leaked between VMs")
	}
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestCounterEndToEnd(t *testing.T) {
	vm := NewVM()
	counter := mustDefine(t, vm, "Counter", nil, "count")

	// increment  count := (count ifNil: [0]) + 1
	mustInstall(t, vm, counter, assemble("increment", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		set := b.NewLabel()
		b.EmitByte(OpPushIvar, 0)
		b.Emit(OpDUP)
		b.Emit(OpPushNil)
		b.Emit(OpSendIdentical)
		b.EmitJump(OpJumpFalse, set)
		b.Emit(OpPOP)
		b.EmitInt8(OpPushInt8, 0)
		b.Mark(set)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendAdd)
		b.EmitByte(OpStoreIvar, 0)
		b.Emit(OpReturnSelf)
	}))
	// value  ^count
	mustInstall(t, vm, counter, assemble("value", 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitByte(OpPushIvar, 0)
		b.Emit(OpReturnTop)
	}))

	c := mustNew(t, vm, counter)
	root := vm.AddRoot(c)
	defer vm.RemoveRoot(root)
	for k := 0; k < 3; k++ {
		mustSend(t, vm, c, "increment")
	}
	wantInt(t, mustSend(t, vm, c, "value"), 3)
}

func TestZeroDivideHandledEndToEnd(t *testing.T) {
	vm := NewVM()
	// ^[10 / 0] on: ZeroDivide do: [:e | -1]
	v := mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitInt8(OpPushInt8, 10)
			bb.EmitInt8(OpPushInt8, 0)
			bb.EmitUint16(OpSendBinary, m.AddSymbol(vm.Symbols, "/"))
			bb.Emit(OpReturnTop)
		})
		pushGlobal(vm, m, b, "ZeroDivide")
		block(m, b, 1, 0, func(bb *BytecodeBuilder) {
			bb.EmitInt8(OpPushInt8, -1)
			bb.Emit(OpReturnTop)
		})
		emitSend(vm, m, b, "on:do:")
		b.Emit(OpReturnTop)
	})
	wantInt(t, v, -1)
	if vm.interp.active != nil {
		t.Errorf("context chain not unwound: %s still active", vm.interp.active.describe())
	}
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

func TestSendArityMismatch(t *testing.T) {
	vm := NewVM()
	_, err := vm.Send(FromSmallInt(1), "+")
	if !errors.Is(err, ErrArity) {
		t.Errorf("err = %v, want ErrArity", err)
	}
	if _, err := vm.SendUnary(FromSmallInt(1), "+"); !errors.Is(err, ErrArity) {
		t.Errorf("SendUnary(+) err = %v, want ErrArity", err)
	}
	if _, err := vm.SendKeyword(FromSmallInt(1), "max", FromSmallInt(2)); !errors.Is(err, ErrArity) {
		t.Errorf("SendKeyword(max) err = %v, want ErrArity", err)
	}
}

func TestSendHelpers(t *testing.T) {
	vm := NewVM()
	v, err := vm.SendBinary(FromSmallInt(4), "*", FromSmallInt(5))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, v, 20)
	v, err = vm.SendKeyword(FromSmallInt(4), "max:", FromSmallInt(9))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, v, 9)
	v, err = vm.SendUnary(FromSmallInt(-4), "abs")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, v, 4)
}

func TestPrintStringAPI(t *testing.T) {
	vm := NewVM()
	s, err := vm.PrintString(FromSmallInt(42))
	if err != nil {
		t.Fatal(err)
	}
	if s != "42" {
		t.Errorf("PrintString = %q, want 42", s)
	}
}

func TestGlobals(t *testing.T) {
	vm := NewVM()
	vm.SetGlobal("Answer", FromSmallInt(42))
	wantInt(t, vm.Global("Answer"), 42)
	if vm.Global("Missing") != Nil {
		t.Error("missing global should be nil")
	}
}

func TestRegisteredPrimitives(t *testing.T) {
	vm := NewVM()
	if _, ok := vm.PrimitiveNamed("SmallInteger>>+"); !ok {
		t.Error("SmallInteger>>+ not registered")
	}
	vm.RegisterPrimitive("Test>>answer", func(vm *VM, recv Value, args []Value) (Value, error) {
		return FromSmallInt(42), nil
	})
	if _, ok := vm.PrimitiveNamed("Test>>answer"); !ok {
		t.Error("registered primitive not found")
	}
}

func TestCacheStatsReportActivity(t *testing.T) {
	vm := NewVM()
	mustSend(t, vm, FromSmallInt(3), "negated")
	mustSend(t, vm, FromSmallInt(4), "negated")
	hits, misses, _, _ := vm.CacheStats()
	if hits == 0 || misses == 0 {
		t.Errorf("hits = %d, misses = %d; want both non-zero", hits, misses)
	}
}
