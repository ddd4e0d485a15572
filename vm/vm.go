package vm

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var (
	log   = commonlog.GetLogger("smalt.vm")
	gcLog = commonlog.GetLogger("smalt.gc")
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures a VM. Heap sizes are in words.
type Options struct {
	YoungWords  int
	OldWords    int
	MaxOldWords int
	TenureAge   int

	// MaxDepth bounds the context chain; deeper sends signal StackOverflow.
	MaxDepth int

	// VerifyCaches cross-checks every cache hit against a cold lookup.
	VerifyCaches bool
	// VerifyHeap checks heap invariants after every collection.
	VerifyHeap bool
}

// DefaultOptions returns the options NewVM uses.
func DefaultOptions() Options {
	return Options{
		YoungWords:  1 << 16,
		OldWords:    1 << 18,
		MaxOldWords: 1 << 26,
		TenureAge:   3,
		MaxDepth:    10000,
	}
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// RootID identifies an explicitly registered root.
type RootID uint64

// VM is one runtime instance: heap, class model, caches and interpreter.
// All public methods serialise on a single lock, which also makes a
// collection a stop-the-world pause.
type VM struct {
	mu sync.Mutex

	ID   uuid.UUID
	opts Options

	Symbols *SymbolTable
	Classes *ClassTable

	heap   *Heap
	cache  *MethodCache
	interp *interpreter
	weak   *WeakRegistry

	globals    map[uint32]Value
	roots      map[RootID]Value
	nextRoot   RootID
	literals   []Value
	strLits    map[string]Value
	primitives map[string]PrimitiveFunc
	kernel     map[*Class]bool

	interrupted atomic.Bool

	specialSelectors     map[Opcode]uint32
	selDoesNotUnderstand uint32

	// Well-known classes
	ObjectClass               *Class
	BehaviorClass             *Class
	ClassDescriptionClass     *Class
	ClassClass                *Class
	MetaclassClass            *Class
	UndefinedObjectClass      *Class
	BooleanClass              *Class
	TrueClass                 *Class
	FalseClass                *Class
	MagnitudeClass            *Class
	CharacterClass            *Class
	NumberClass               *Class
	FloatClass                *Class
	IntegerClass              *Class
	SmallIntegerClass         *Class
	LargePositiveIntegerClass *Class
	LargeNegativeIntegerClass *Class
	SymbolClass               *Class
	StringClass               *Class
	ArrayClass                *Class
	ByteArrayClass            *Class
	MessageClass              *Class
	BlockClosureClass         *Class
	ContextClass              *Class
	WeakReferenceClass        *Class
	SystemDictionaryClass     *Class

	// Exception hierarchy
	ExceptionClass  *Class
	ErrorClass      *Class
	ZeroDivideClass *Class
}

// NewVM creates and bootstraps a VM with default options.
func NewVM() *VM {
	return NewVMWithOptions(DefaultOptions())
}

// NewVMWithOptions creates and bootstraps a VM. Zero fields take their
// default values.
func NewVMWithOptions(opts Options) *VM {
	def := DefaultOptions()
	if opts.YoungWords <= 0 {
		opts.YoungWords = def.YoungWords
	}
	if opts.OldWords <= 0 {
		opts.OldWords = def.OldWords
	}
	if opts.MaxOldWords <= 0 {
		opts.MaxOldWords = def.MaxOldWords
	}
	if opts.TenureAge <= 0 {
		opts.TenureAge = def.TenureAge
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}

	vm := &VM{
		ID:         uuid.New(),
		opts:       opts,
		Symbols:    NewSymbolTable(),
		Classes:    NewClassTable(),
		cache:      NewMethodCache(opts.VerifyCaches),
		weak:       NewWeakRegistry(),
		globals:    make(map[uint32]Value),
		roots:      make(map[RootID]Value),
		strLits:    make(map[string]Value),
		primitives: make(map[string]PrimitiveFunc),
		kernel:     make(map[*Class]bool),
	}
	vm.interp = newInterpreter(vm)
	vm.heap = NewHeap(HeapConfig{
		YoungWords:  opts.YoungWords,
		OldWords:    opts.OldWords,
		MaxOldWords: opts.MaxOldWords,
		TenureAge:   opts.TenureAge,
		VerifyHeap:  opts.VerifyHeap,
	}, vm.enumerateRoots)
	vm.heap.afterGC = func(cleared []Value) {
		vm.weak.processCleared(vm.heap, cleared)
	}

	vm.specialSelectors = make(map[Opcode]uint32, len(specialSelectors))
	for op, name := range specialSelectors {
		vm.specialSelectors[op] = vm.Symbols.Intern(name)
	}
	vm.selDoesNotUnderstand = vm.Symbols.Intern("doesNotUnderstand:")

	vm.bootstrap()
	vm.installKernel()
	log.Infof("vm %s: bootstrapped %d classes", vm.ID, vm.Classes.Len())
	return vm
}

// Options returns the options the VM was created with.
func (vm *VM) Options() Options { return vm.opts }

// enumerateRoots visits every strong root held outside the heap.
func (vm *VM) enumerateRoots(visit func(Value)) {
	vm.Classes.each(func(c *Class) {
		visit(c.object)
	})
	for _, v := range vm.globals {
		visit(v)
	}
	for _, v := range vm.roots {
		visit(v)
	}
	for _, v := range vm.literals {
		visit(v)
	}
	vm.interp.roots(visit)
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

// bootstrap builds the kernel class hierarchy. Classes are created first,
// then their metaclasses in hierarchy order, then the heap class objects,
// since the metaclass of Object inherits from Class.
func (vm *VM) bootstrap() {
	var boot []*Class
	def := func(name string, super *Class, format Format, ivars ...string) *Class {
		c := newClass(name, super, ivars, format)
		boot = append(boot, c)
		return c
	}

	vm.ObjectClass = def("Object", nil, FormatFixed)
	vm.BehaviorClass = def("Behavior", vm.ObjectClass, FormatBehavior)
	vm.ClassDescriptionClass = def("ClassDescription", vm.BehaviorClass, FormatBehavior)
	vm.ClassClass = def("Class", vm.ClassDescriptionClass, FormatBehavior)
	vm.MetaclassClass = def("Metaclass", vm.ClassDescriptionClass, FormatBehavior)

	vm.UndefinedObjectClass = def("UndefinedObject", vm.ObjectClass, FormatFixed)
	vm.BooleanClass = def("Boolean", vm.ObjectClass, FormatFixed)
	vm.TrueClass = def("True", vm.BooleanClass, FormatFixed)
	vm.FalseClass = def("False", vm.BooleanClass, FormatFixed)

	vm.MagnitudeClass = def("Magnitude", vm.ObjectClass, FormatFixed)
	vm.CharacterClass = def("Character", vm.MagnitudeClass, FormatFixed)
	vm.NumberClass = def("Number", vm.MagnitudeClass, FormatFixed)
	vm.FloatClass = def("Float", vm.NumberClass, FormatFixed)
	vm.IntegerClass = def("Integer", vm.NumberClass, FormatFixed)
	vm.SmallIntegerClass = def("SmallInteger", vm.IntegerClass, FormatFixed)
	vm.LargePositiveIntegerClass = def("LargePositiveInteger", vm.IntegerClass, FormatBytes)
	vm.LargeNegativeIntegerClass = def("LargeNegativeInteger", vm.IntegerClass, FormatBytes)

	vm.SymbolClass = def("Symbol", vm.ObjectClass, FormatBytes)
	vm.StringClass = def("String", vm.ObjectClass, FormatBytes)
	vm.ArrayClass = def("Array", vm.ObjectClass, FormatIndexable)
	vm.ByteArrayClass = def("ByteArray", vm.ObjectClass, FormatBytes)
	vm.MessageClass = def("Message", vm.ObjectClass, FormatFixed, "selector", "arguments")
	vm.BlockClosureClass = def("BlockClosure", vm.ObjectClass, FormatBlock)
	vm.ContextClass = def("Context", vm.ObjectClass, FormatContext)
	vm.WeakReferenceClass = def("WeakReference", vm.ObjectClass, FormatWeak)
	vm.SystemDictionaryClass = def("SystemDictionary", vm.ObjectClass, FormatFixed)

	vm.ExceptionClass = def("Exception", vm.ObjectClass, FormatFixed, "messageText", "signalContext", "handlerContext")
	vm.ErrorClass = def("Error", vm.ExceptionClass, FormatFixed)
	def("DoesNotUnderstand", vm.ErrorClass, FormatFixed, "message", "receiver")
	def("IndexOutOfRange", vm.ErrorClass, FormatFixed, "index")
	def("NonLocalReturnToDeadContext", vm.ErrorClass, FormatFixed, "value")
	def("ImmutableObject", vm.ErrorClass, FormatFixed, "object")
	arith := def("ArithmeticError", vm.ErrorClass, FormatFixed)
	vm.ZeroDivideClass = def("ZeroDivide", arith, FormatFixed, "dividend")
	def("PrimitiveFailed", vm.ErrorClass, FormatFixed)
	def("WrongArgumentCount", vm.ErrorClass, FormatFixed)
	def("NonBooleanReceiver", vm.ErrorClass, FormatFixed, "object")
	def("StackOverflow", vm.ErrorClass, FormatFixed)
	def("InvalidArgument", vm.ErrorClass, FormatFixed)

	for _, c := range boot {
		superMeta := vm.ClassClass
		if c.Superclass != nil {
			superMeta = c.Superclass.Meta
		}
		vm.attachMeta(c, superMeta, nil)
	}
	for _, c := range boot {
		vm.materialize(c)
		vm.kernel[c] = true
		vm.Classes.Register(c)
		vm.globals[vm.Symbols.Intern(c.Name)] = c.object
	}

	smalltalk := vm.heap.allocateOld(vm.SystemDictionaryClass, FormatFixed, 0, 0, nil, 0)
	vm.globals[vm.Symbols.Intern("Smalltalk")] = smalltalk
}

// attachMeta creates the metaclass of c.
func (vm *VM) attachMeta(c *Class, superMeta *Class, classIvars []string) {
	meta := newClass(c.Name+" class", superMeta, classIvars, FormatBehavior)
	meta.ThisClass = c
	c.Meta = meta
}

// classObjectWords is what a class object is charged for its Go record.
const classObjectWords = 16

// materialize allocates the heap objects of c and its metaclass. Both live
// in the old generation for the life of the class.
func (vm *VM) materialize(c *Class) {
	meta := c.Meta
	c.object = vm.heap.allocateOld(meta, FormatBehavior, meta.NumSlots, 0, c, classObjectWords)
	meta.object = vm.heap.allocateOld(vm.MetaclassClass, FormatBehavior, vm.MetaclassClass.NumSlots, 0, meta, classObjectWords)
}

// ---------------------------------------------------------------------------
// Class-of and object helpers
// ---------------------------------------------------------------------------

// classOf returns the class of any value, immediates included.
func (vm *VM) classOf(v Value) *Class {
	switch {
	case v.IsObject():
		return vm.heap.ClassOf(v)
	case v.IsSmallInt():
		return vm.SmallIntegerClass
	case v.IsFloat():
		return vm.FloatClass
	case v == Nil:
		return vm.UndefinedObjectClass
	case v == True:
		return vm.TrueClass
	case v == False:
		return vm.FalseClass
	case v.IsSymbol():
		return vm.SymbolClass
	case v.IsCharacter():
		return vm.CharacterClass
	}
	fatal(FatalHeapCorruption, "value 0x%016x has no class", uint64(v))
	return nil
}

// classFromObject returns the class a class object stands for, or nil if v
// is not a class object.
func (vm *VM) classFromObject(v Value) *Class {
	if !v.IsObject() || vm.heap.FormatOf(v) != FormatBehavior {
		return nil
	}
	c, _ := vm.heap.native(v).(*Class)
	return c
}

// field reads the named instance variable of obj, or nil when obj has no
// such variable.
func (vm *VM) field(obj Value, name string) Value {
	if !obj.IsObject() {
		return Nil
	}
	idx := vm.heap.ClassOf(obj).InstVarIndex(name)
	if idx < 0 {
		return Nil
	}
	v, err := vm.heap.Fetch(obj, idx)
	if err != nil {
		return Nil
	}
	return v
}

// setField writes the named instance variable of obj if it has one.
func (vm *VM) setField(obj Value, name string, v Value) {
	if !obj.IsObject() {
		return
	}
	if idx := vm.heap.ClassOf(obj).InstVarIndex(name); idx >= 0 {
		vm.heap.storeRaw(obj, idx, v)
	}
}

// newMessage builds a Message for a failed lookup. args must be reachable
// by the caller.
func (vm *VM) newMessage(selector uint32, args []Value) Value {
	arr := vm.newArray(args)
	mark := vm.heap.pushRoots(arr)
	msg := vm.heap.allocate(vm.MessageClass, FormatFixed, vm.MessageClass.NumSlots, 0, nil, 0)
	vm.heap.popRoots(mark)
	vm.setField(msg, "selector", FromSymbolID(selector))
	vm.setField(msg, "arguments", arr)
	return msg
}

// newArray allocates an Array holding elems.
func (vm *VM) newArray(elems []Value) Value {
	mark := vm.heap.pushRoots(elems...)
	arr := vm.heap.allocate(vm.ArrayClass, FormatIndexable, 0, len(elems), nil, 0)
	vm.heap.popRoots(mark)
	for i, e := range elems {
		vm.heap.storeRaw(arr, i, e)
	}
	return arr
}

// newString allocates a String holding s.
func (vm *VM) newString(s string) Value {
	v := vm.heap.allocate(vm.StringClass, FormatBytes, 0, len(s), nil, 0)
	copy(vm.heap.Bytes(v), s)
	return v
}

// stringValue returns the text of a String or Symbol.
func (vm *VM) stringValue(v Value) (string, bool) {
	if v.IsSymbol() {
		return vm.Symbols.Name(v.SymbolID()), true
	}
	if v.IsObject() && vm.heap.ClassOf(v).IsSubclassOf(vm.StringClass) {
		return string(vm.heap.Bytes(v)), true
	}
	return "", false
}

// arrayElements copies the elements of an Array.
func (vm *VM) arrayElements(v Value) ([]Value, bool) {
	if !v.IsObject() || vm.heap.FormatOf(v) != FormatIndexable {
		return nil, false
	}
	n := vm.heap.NamedSize(v)
	size := vm.heap.Size(v)
	out := make([]Value, 0, size-n)
	for i := n; i < size; i++ {
		e, _ := vm.heap.Fetch(v, i)
		out = append(out, e)
	}
	return out, true
}

// instantiate allocates an instance of class with indexed elements.
func (vm *VM) instantiate(class *Class, indexed int) (Value, error) {
	switch {
	case class.IsMeta() || class.Format == FormatBehavior:
		return Nil, ErrNotInstantiable
	case class.Format.isNative():
		return Nil, ErrNotInstantiable
	case indexed < 0:
		return Nil, invalidArgument("negative size %d", indexed)
	case indexed > 0 && !class.Format.IsIndexable():
		return Nil, invalidArgument("%s is not indexable", class.Name)
	case class.IsSubclassOf(vm.ExceptionClass) && indexed > 0:
		return Nil, invalidArgument("%s is not indexable", class.Name)
	}
	return vm.heap.allocate(class, class.Format, class.NumSlots, indexed, nil, 0), nil
}

// ---------------------------------------------------------------------------
// Primitive registry
// ---------------------------------------------------------------------------

// primitive installs fn as class>>selector and registers it under
// "Class>>selector".
func (vm *VM) primitive(class *Class, selector string, fn PrimitiveFunc) {
	name := class.Name + ">>" + selector
	m := NewPrimitiveMethod(name, SelectorArity(selector), fn)
	sel := vm.Symbols.Intern(selector)
	m.bind(class, sel)
	class.Methods.AtPut(sel, m)
	vm.primitives[name] = fn
}

// classPrimitive installs fn on the metaclass of class.
func (vm *VM) classPrimitive(class *Class, selector string, fn PrimitiveFunc) {
	vm.primitive(class.Meta, selector, fn)
}

// RegisterPrimitive makes fn available to compiled methods by name.
func (vm *VM) RegisterPrimitive(name string, fn PrimitiveFunc) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.primitives[name] = fn
}

// PrimitiveNamed returns a registered primitive. Kernel primitives are
// registered as "Class>>selector".
func (vm *VM) PrimitiveNamed(name string) (PrimitiveFunc, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	fn, ok := vm.primitives[name]
	return fn, ok
}

// ---------------------------------------------------------------------------
// Public object API
// ---------------------------------------------------------------------------

// Instantiate creates an instance of class with indexed elements.
func (vm *VM) Instantiate(class *Class, indexed int) (Value, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if class.removed {
		return Nil, ErrUnknownClass
	}
	return vm.instantiate(class, indexed)
}

// ClassNamed returns the class called name, or nil.
func (vm *VM) ClassNamed(name string) *Class {
	return vm.Classes.Lookup(name)
}

// ClassOf returns the class of v.
func (vm *VM) ClassOf(v Value) *Class {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.classOf(v)
}

// Symbol returns the interned symbol called name.
func (vm *VM) Symbol(name string) Value {
	return vm.Symbols.Value(name)
}

// NewString allocates a String. Register it with AddRoot to keep it across
// calls.
func (vm *VM) NewString(s string) Value {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.newString(s)
}

// NewArray allocates an Array holding elems.
func (vm *VM) NewArray(elems ...Value) Value {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.newArray(elems)
}

// StringValue returns the text of a String or Symbol.
func (vm *VM) StringValue(v Value) (string, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stringValue(v)
}

// Fetch reads slot i of obj (0-based over named then indexed slots).
func (vm *VM) Fetch(obj Value, i int) (Value, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.heap.Fetch(obj, i)
}

// Store writes slot i of obj.
func (vm *VM) Store(obj Value, i int, v Value) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.heap.Store(obj, i, v)
}

// Global returns the global called name, or nil.
func (vm *VM) Global(name string) Value {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.globals[vm.Symbols.Intern(name)]
}

// SetGlobal binds a global variable.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.globals[vm.Symbols.Intern(name)] = v
}

// PrintString answers the receiver's printString as a Go string.
func (vm *VM) PrintString(v Value) (string, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, err := vm.send(v, vm.Symbols.Intern("printString"), nil)
	if err != nil {
		return "", err
	}
	if text, ok := vm.stringValue(s); ok {
		return text, nil
	}
	return vm.printString(v), nil
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// LiteralString returns an immutable String for use as a method literal.
// Equal texts share one object, which stays live for the VM's lifetime.
func (vm *VM) LiteralString(s string) Value {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if v, ok := vm.strLits[s]; ok {
		return v
	}
	v := vm.heap.allocateOld(vm.StringClass, FormatBytes, 0, len(s), nil, 0)
	copy(vm.heap.Bytes(v), s)
	vm.heap.BeImmutable(v)
	vm.strLits[s] = v
	vm.literals = append(vm.literals, v)
	return v
}

// LiteralArray returns an immutable Array for use as a method literal.
// Elements must be immediates or other literals.
func (vm *VM) LiteralArray(elems ...Value) Value {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	v := vm.heap.allocateOld(vm.ArrayClass, FormatIndexable, 0, len(elems), nil, 0)
	for i, e := range elems {
		vm.heap.storeRaw(v, i, e)
	}
	vm.heap.BeImmutable(v)
	vm.literals = append(vm.literals, v)
	return v
}

// ---------------------------------------------------------------------------
// Roots and collection
// ---------------------------------------------------------------------------

// AddRoot keeps v alive until RemoveRoot is called with the returned id.
func (vm *VM) AddRoot(v Value) RootID {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.nextRoot++
	vm.roots[vm.nextRoot] = v
	return vm.nextRoot
}

// RemoveRoot drops a root registered with AddRoot.
func (vm *VM) RemoveRoot(id RootID) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	delete(vm.roots, id)
}

// Collect runs a full collection.
func (vm *VM) Collect() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.heap.majorGC()
}

// CollectYoung runs a young-generation collection.
func (vm *VM) CollectYoung() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.heap.minorGC()
}

// GCStats returns collector statistics.
func (vm *VM) GCStats() GCStats {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.heap.Stats()
}

// VerifyHeap checks heap invariants, reporting every violation.
func (vm *VM) VerifyHeap() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.heap.Verify()
}

// IsLive reports whether v still refers to a live object. Immediates are
// always live.
func (vm *VM) IsLive(v Value) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.heap.isLive(v)
}

// IsOld reports whether v has been tenured.
func (vm *VM) IsOld(v Value) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.heap.IsOld(v)
}

// CacheStats reports global and send-site cache activity.
func (vm *VM) CacheStats() (hits, misses, invalidations uint64, sites ICStats) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.cache.Hits, vm.cache.Misses, vm.cache.Invalidations, collectICStats(vm.Classes)
}
