package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Class definition
// ---------------------------------------------------------------------------

// ClassDefinition describes a class to define or redefine.
type ClassDefinition struct {
	Name       string
	Superclass string // defaults to Object
	InstVars   []string
	// ClassInstVars are instance variables of the class object itself.
	ClassInstVars []string
	// Format is the instance format. FormatFixed inherits an indexable
	// format from the superclass.
	Format Format
}

// DefineClass creates a class under superclass with the given instance
// variables. It fails with ErrClassExists if the name is taken.
func (vm *VM) DefineClass(name string, superclass *Class, instVars []string) (*Class, error) {
	super := "Object"
	if superclass != nil {
		super = superclass.Name
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.Classes.Lookup(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrClassExists, name)
	}
	return vm.defineClass(ClassDefinition{Name: name, Superclass: super, InstVars: instVars})
}

// Define creates the class described by def, or redefines it if a class of
// that name exists.
func (vm *VM) Define(def ClassDefinition) (*Class, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.define(def)
}

func (vm *VM) define(def ClassDefinition) (*Class, error) {
	if vm.Classes.Lookup(def.Name) != nil {
		return vm.redefineClass(def)
	}
	return vm.defineClass(def)
}

func (vm *VM) defineClass(def ClassDefinition) (*Class, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: class name is empty", ErrSchemaConflict)
	}
	super, err := vm.superclassFor(def)
	if err != nil {
		return nil, err
	}
	format, err := instanceFormat(super, def.Format)
	if err != nil {
		return nil, err
	}
	if err := checkNames(def.Name, super.AllInstVarNames(), def.InstVars); err != nil {
		return nil, err
	}
	if err := checkNames(def.Name+" class", super.Meta.AllInstVarNames(), def.ClassInstVars); err != nil {
		return nil, err
	}

	c := newClass(def.Name, super, def.InstVars, format)
	vm.attachMeta(c, super.Meta, def.ClassInstVars)
	vm.materialize(c)
	vm.Classes.Register(c)
	vm.globals[vm.Symbols.Intern(c.Name)] = c.object
	log.Infof("vm %s: defined %s as subclass of %s %v", vm.ID, c.Name, super.Name, def.InstVars)
	return c, nil
}

func (vm *VM) superclassFor(def ClassDefinition) (*Class, error) {
	name := def.Superclass
	if name == "" {
		name = "Object"
	}
	super := vm.Classes.Lookup(name)
	if super == nil {
		return nil, fmt.Errorf("%w: superclass %s of %s", ErrUnknownClass, name, def.Name)
	}
	return super, nil
}

// instanceFormat decides the instance format of a new subclass of super.
func instanceFormat(super *Class, requested Format) (Format, error) {
	if super.Format.isNative() {
		return 0, fmt.Errorf("%w: %s instances are managed by the runtime and cannot be subclassed", ErrSchemaConflict, super.Name)
	}
	if requested == FormatFixed {
		return super.Format, nil
	}
	if requested.isNative() {
		return 0, fmt.Errorf("%w: format %s is reserved", ErrSchemaConflict, requested)
	}
	if super.Format != FormatFixed && super.Format != requested {
		return 0, fmt.Errorf("%w: %s subclass of %s %s", ErrSchemaConflict, requested, super.Format, super.Name)
	}
	return requested, nil
}

// checkNames rejects duplicate or shadowing instance variable names.
func checkNames(owner string, inherited, declared []string) error {
	seen := make(map[string]bool, len(inherited)+len(declared))
	for _, n := range inherited {
		seen[n] = true
	}
	for _, n := range declared {
		if n == "" {
			return fmt.Errorf("%w: %s declares an empty instance variable name", ErrSchemaConflict, owner)
		}
		if seen[n] {
			return fmt.Errorf("%w: %s: instance variable %q is already defined", ErrSchemaConflict, owner, n)
		}
		seen[n] = true
	}
	return nil
}

// RemoveClass removes a class with no subclasses. Existing instances keep
// working; the name stops resolving and every cache entry for the class is
// dropped.
func (vm *VM) RemoveClass(name string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.removeClass(name)
}

func (vm *VM) removeClass(name string) error {
	c := vm.Classes.Lookup(name)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownClass, name)
	}
	if vm.kernel[c] {
		return fmt.Errorf("%w: %s is a kernel class", ErrSchemaConflict, name)
	}
	if len(c.subclasses) > 0 {
		return fmt.Errorf("%w: %s has subclasses", ErrSchemaConflict, name)
	}
	vm.cache.InvalidateSubtree(c)
	c.Superclass.removeSubclass(c)
	c.Meta.Superclass.removeSubclass(c.Meta)
	c.removed = true
	vm.Classes.Remove(name)
	delete(vm.globals, vm.Symbols.Intern(name))
	log.Infof("vm %s: removed class %s", vm.ID, name)
	return nil
}

// ---------------------------------------------------------------------------
// Method installation
// ---------------------------------------------------------------------------

// InstallMethod verifies m and installs it in class under its selector,
// replacing any previous method. A method that is already installed
// elsewhere is copied first. A method built for another bytecode version is
// a fatal condition.
func (vm *VM) InstallMethod(class *Class, m *CompiledMethod) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.installMethod(class, m)
}

func (vm *VM) installMethod(class *Class, m *CompiledMethod) error {
	if m.Version != BytecodeVersion {
		fatal(FatalVersionMismatch, "method %s was compiled for bytecode version %d, runtime supports %d",
			m.Name, m.Version, BytecodeVersion)
	}
	if class.removed {
		return fmt.Errorf("%w: %s", ErrUnknownClass, class.Name)
	}
	if err := m.verify(vm.Symbols, class); err != nil {
		return err
	}
	if m.installed {
		m = m.clone()
	}
	if m.PrimitiveName != "" && m.Primitive == nil {
		fn, ok := vm.primitives[m.PrimitiveName]
		if !ok {
			return fmt.Errorf("%w: %s names unknown primitive %s", ErrInvalidMethod, m.Name, m.PrimitiveName)
		}
		m.Primitive = fn
	}
	sel := vm.Symbols.Intern(m.Name)
	m.bind(class, sel)
	class.Methods.AtPut(sel, m)
	vm.cache.InvalidateSubtree(class)
	log.Debugf("vm %s: installed %s", vm.ID, m)
	return nil
}

// InstallPrimitive installs fn as the whole body of class>>selector.
func (vm *VM) InstallPrimitive(class *Class, selector string, fn PrimitiveFunc) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if class.removed {
		return fmt.Errorf("%w: %s", ErrUnknownClass, class.Name)
	}
	vm.primitive(class, selector, fn)
	vm.cache.InvalidateSubtree(class)
	return nil
}

// RemoveMethod deletes class>>selector.
func (vm *VM) RemoveMethod(class *Class, selector string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.removeMethod(class, selector)
}

func (vm *VM) removeMethod(class *Class, selector string) error {
	sel, ok := vm.Symbols.Lookup(selector)
	if !ok || !class.Methods.RemoveKey(sel) {
		return fmt.Errorf("%w: %s>>%s", ErrUnknownSelector, class.Name, selector)
	}
	vm.cache.InvalidateSubtree(class)
	log.Debugf("vm %s: removed %s>>%s", vm.ID, class.Name, selector)
	return nil
}

// LookupMethod resolves selector for instances of class the way a send
// would, or returns nil.
func (vm *VM) LookupMethod(class *Class, selector string) Method {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	sel, ok := vm.Symbols.Lookup(selector)
	if !ok {
		return nil
	}
	return vm.cache.Lookup(class, sel)
}
