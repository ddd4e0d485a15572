package vm

import "sort"

// Method is an entry in a method dictionary: either a *PrimitiveMethod or a
// *CompiledMethod.
type Method interface {
	Selector() uint32
	// Class is the class whose dictionary holds the method.
	Class() *Class
	NumArgs() int
	bind(class *Class, selector uint32)
}

// PrimitiveFunc implements a method body in Go. args aliases the caller's
// evaluation stack and must not be retained.
//
// Returning ErrPrimitiveFailed asks for the bytecode fallback of a compiled
// method; a *LanguageError is signalled as a Smalltalk exception.
type PrimitiveFunc func(vm *VM, receiver Value, args []Value) (Value, error)

// Arity-specialised primitive shapes used when registering kernel methods.
type (
	Prim0Func func(vm *VM, receiver Value) (Value, error)
	Prim1Func func(vm *VM, receiver Value, arg Value) (Value, error)
	Prim2Func func(vm *VM, receiver Value, arg1, arg2 Value) (Value, error)
)

// PrimitiveMethod is a method whose whole body is a Go function.
type PrimitiveMethod struct {
	Name     string
	Fn       PrimitiveFunc
	arity    int
	selector uint32
	class    *Class
}

// NewPrimitiveMethod wraps fn as a method taking arity arguments.
func NewPrimitiveMethod(name string, arity int, fn PrimitiveFunc) *PrimitiveMethod {
	return &PrimitiveMethod{Name: name, Fn: fn, arity: arity}
}

func (m *PrimitiveMethod) Selector() uint32 { return m.selector }
func (m *PrimitiveMethod) Class() *Class    { return m.class }
func (m *PrimitiveMethod) NumArgs() int     { return m.arity }

func (m *PrimitiveMethod) bind(class *Class, selector uint32) {
	m.class = class
	m.selector = selector
}

func prim0(fn Prim0Func) PrimitiveFunc {
	return func(vm *VM, recv Value, _ []Value) (Value, error) { return fn(vm, recv) }
}

func prim1(fn Prim1Func) PrimitiveFunc {
	return func(vm *VM, recv Value, args []Value) (Value, error) { return fn(vm, recv, args[0]) }
}

func prim2(fn Prim2Func) PrimitiveFunc {
	return func(vm *VM, recv Value, args []Value) (Value, error) { return fn(vm, recv, args[0], args[1]) }
}

// ---------------------------------------------------------------------------
// MethodDictionary
// ---------------------------------------------------------------------------

// MethodDictionary maps selector ids to methods. Keys are unique; putting a
// selector that is already present replaces its method.
type MethodDictionary struct {
	methods map[uint32]Method
}

// NewMethodDictionary creates an empty dictionary.
func NewMethodDictionary() *MethodDictionary {
	return &MethodDictionary{methods: make(map[uint32]Method)}
}

// At returns the method for selector, or nil.
func (d *MethodDictionary) At(selector uint32) Method {
	return d.methods[selector]
}

// AtPut stores m under selector and returns the method it replaced.
func (d *MethodDictionary) AtPut(selector uint32, m Method) Method {
	old := d.methods[selector]
	d.methods[selector] = m
	return old
}

// RemoveKey deletes selector, reporting whether it was present.
func (d *MethodDictionary) RemoveKey(selector uint32) bool {
	if _, ok := d.methods[selector]; !ok {
		return false
	}
	delete(d.methods, selector)
	return true
}

// Includes reports whether selector is defined locally.
func (d *MethodDictionary) Includes(selector uint32) bool {
	_, ok := d.methods[selector]
	return ok
}

// Len returns the number of local methods.
func (d *MethodDictionary) Len() int { return len(d.methods) }

// Selectors returns the local selectors in ascending id order.
func (d *MethodDictionary) Selectors() []uint32 {
	out := make([]uint32, 0, len(d.methods))
	for sel := range d.methods {
		out = append(out, sel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Each calls fn for every method in selector order.
func (d *MethodDictionary) Each(fn func(selector uint32, m Method)) {
	for _, sel := range d.Selectors() {
		fn(sel, d.methods[sel])
	}
}
