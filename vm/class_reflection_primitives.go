package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Behavior Primitives
// ---------------------------------------------------------------------------

// Every class object inherits these: metaclasses descend from Class, which
// descends from Behavior.
func (vm *VM) registerBehaviorPrimitives() {
	c := vm.BehaviorClass

	// ---------------------------------------------------------------------------
	// Instance creation
	// ---------------------------------------------------------------------------

	newInstance := func(vm *VM, recv Value, indexed Value) (Value, error) {
		class := vm.classFromObject(recv)
		n := 0
		if indexed != Nil {
			var err error
			if n, err = intArg(indexed); err != nil {
				return Nil, err
			}
		}
		v, err := vm.instantiate(class, n)
		if errors.Is(err, ErrNotInstantiable) {
			return Nil, newLanguageError("Error", "%s cannot be instantiated", class.Name)
		}
		return v, err
	}
	vm.primitive(c, "new", prim0(func(vm *VM, recv Value) (Value, error) {
		return newInstance(vm, recv, Nil)
	}))
	vm.primitive(c, "basicNew", prim0(func(vm *VM, recv Value) (Value, error) {
		return newInstance(vm, recv, Nil)
	}))
	vm.primitive(c, "new:", prim1(func(vm *VM, recv, n Value) (Value, error) {
		return newInstance(vm, recv, n)
	}))
	vm.primitive(c, "basicNew:", prim1(func(vm *VM, recv, n Value) (Value, error) {
		return newInstance(vm, recv, n)
	}))

	// ---------------------------------------------------------------------------
	// Reflection
	// ---------------------------------------------------------------------------

	vm.primitive(c, "name", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(vm.classFromObject(recv).Name), nil
	}))
	vm.primitive(c, "superclass", prim0(func(vm *VM, recv Value) (Value, error) {
		if super := vm.classFromObject(recv).Superclass; super != nil {
			return super.object, nil
		}
		return Nil, nil
	}))
	vm.primitive(c, "instanceVariableNames", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newStringArray(vm.classFromObject(recv).InstVars), nil
	}))
	vm.primitive(c, "allInstVarNames", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newStringArray(vm.classFromObject(recv).AllInstVarNames()), nil
	}))
	vm.primitive(c, "selectors", prim0(func(vm *VM, recv Value) (Value, error) {
		sels := vm.classFromObject(recv).Methods.Selectors()
		elems := make([]Value, len(sels))
		for k, sel := range sels {
			elems[k] = FromSymbolID(sel)
		}
		return vm.newArray(elems), nil
	}))
	vm.primitive(c, "includesSelector:", prim1(func(vm *VM, recv, selector Value) (Value, error) {
		sel, err := vm.selectorArg(selector)
		if err != nil {
			return Nil, err
		}
		return FromBool(vm.classFromObject(recv).Methods.Includes(sel)), nil
	}))
	vm.primitive(c, "canUnderstand:", prim1(func(vm *VM, recv, selector Value) (Value, error) {
		sel, err := vm.selectorArg(selector)
		if err != nil {
			return Nil, err
		}
		return FromBool(vm.cache.Lookup(vm.classFromObject(recv), sel) != nil), nil
	}))
	vm.primitive(c, "inheritsFrom:", prim1(func(vm *VM, recv, other Value) (Value, error) {
		o := vm.classFromObject(other)
		return FromBool(o != nil && vm.classFromObject(recv).InheritsFrom(o)), nil
	}))
	vm.primitive(c, "instanceCount", prim0(func(vm *VM, recv Value) (Value, error) {
		vm.heap.majorGC()
		return FromSmallInt(int64(len(vm.heap.instancesOf(vm.classFromObject(recv))))), nil
	}))
	vm.primitive(c, "removeSelector:", prim1(func(vm *VM, recv, selector Value) (Value, error) {
		sel, err := vm.selectorArg(selector)
		if err != nil {
			return Nil, err
		}
		return recv, vm.removeMethod(vm.classFromObject(recv), vm.Symbols.Name(sel))
	}))

	// ---------------------------------------------------------------------------
	// Subclass creation
	// ---------------------------------------------------------------------------

	vm.primitive(c, "subclass:", prim1(func(vm *VM, recv, name Value) (Value, error) {
		return vm.subclass(recv, name, Nil, Nil, false)
	}))
	vm.primitive(c, "subclass:instanceVariableNames:", prim2(func(vm *VM, recv, name, ivars Value) (Value, error) {
		return vm.subclass(recv, name, ivars, Nil, false)
	}))
	vm.primitive(c, "subclass:instanceVariableNames:classInstanceVariableNames:",
		func(vm *VM, recv Value, args []Value) (Value, error) {
			return vm.subclass(recv, args[0], args[1], args[2], true)
		})

	vm.primitive(vm.MetaclassClass, "soleInstance", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.classFromObject(recv).ThisClass.object, nil
	}))
}

// subclass defines or redefines a subclass of the class object recv. Unless
// withClassVars is set an existing class keeps its class-side variables.
func (vm *VM) subclass(recv, name, ivars, classIvars Value, withClassVars bool) (Value, error) {
	super := vm.classFromObject(recv)
	if super == nil || super.IsMeta() {
		return Nil, invalidArgument("%s cannot have subclasses", vm.printString(recv))
	}
	n, ok := vm.stringValue(name)
	if !ok || n == "" {
		return Nil, invalidArgument("class name must be a Symbol, got %s", vm.printString(name))
	}
	iv, err := vm.splitNames(ivars)
	if err != nil {
		return Nil, err
	}
	civ, err := vm.splitNames(classIvars)
	if err != nil {
		return Nil, err
	}
	if existing := vm.Classes.Lookup(n); existing != nil && !withClassVars {
		civ = existing.Meta.InstVars
	}
	class, err := vm.define(ClassDefinition{Name: n, Superclass: super.Name, InstVars: iv, ClassInstVars: civ})
	if err != nil {
		return Nil, err
	}
	return class.object, nil
}
