package vm

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Schema change
// ---------------------------------------------------------------------------

// Redefining a class that already has instances migrates them: every
// instance of the class and of its subclasses is rewritten to the new
// layout in place. Values of variables present under both the old and the
// new definition are kept; new variables start as nil. Identity survives
// because references go through the object table.
//
// Installed methods of the affected classes are relinked: their instance
// variable operands are rewritten to the new offsets in place, so closures
// and suspended contexts running them follow the new layout as well. A
// change that would strand a method referencing a removed variable is
// rejected before anything is modified.

// RedefineClass changes the superclass, instance variables or class-side
// instance variables of an existing class.
func (vm *VM) RedefineClass(def ClassDefinition) (*Class, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.redefineClass(def)
}

// layoutPlan is the before/after instance variable list of one class.
type layoutPlan struct {
	class    *Class
	oldNames []string
	newNames []string
}

func (p layoutPlan) changed() bool { return !slices.Equal(p.oldNames, p.newNames) }

// mapping returns, for each new slot, the old slot it takes its value from.
func (p layoutPlan) mapping() []int {
	out := make([]int, len(p.newNames))
	for i, n := range p.newNames {
		out[i] = slices.Index(p.oldNames, n)
	}
	return out
}

func (vm *VM) redefineClass(def ClassDefinition) (*Class, error) {
	c := vm.Classes.Lookup(def.Name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, def.Name)
	}
	if vm.kernel[c] {
		return nil, fmt.Errorf("%w: %s is a kernel class", ErrSchemaConflict, def.Name)
	}
	super, err := vm.superclassFor(def)
	if err != nil {
		return nil, err
	}
	if super.IsSubclassOf(c) {
		return nil, fmt.Errorf("%w: making %s a subclass of %s creates a cycle", ErrSchemaConflict, c.Name, super.Name)
	}
	format, err := instanceFormat(super, def.Format)
	if err != nil {
		return nil, err
	}
	if format != c.Format && vm.hasInstances(c) {
		return nil, fmt.Errorf("%w: %s has instances in %s format", ErrSchemaConflict, c.Name, c.Format)
	}

	plans, err := planLayouts(c, super.AllInstVarNames(), def.InstVars, func(k *Class) *Class { return k })
	if err != nil {
		return nil, err
	}
	metaPlans, err := planLayouts(c, super.Meta.AllInstVarNames(), def.ClassInstVars, func(k *Class) *Class { return k.Meta })
	if err != nil {
		return nil, err
	}
	all := append(plans, metaPlans...)
	for _, p := range all {
		if err := vm.checkMethodsSurvive(p); err != nil {
			return nil, err
		}
	}

	// Collect first so only live instances are migrated, then reserve room
	// for all of them before touching anything.
	vm.heap.majorGC()
	type migration struct {
		plan    layoutPlan
		objects []Value
	}
	var work []migration
	words := 0
	for _, p := range all {
		if !p.changed() {
			continue
		}
		var objs []Value
		if p.class.IsMeta() {
			objs = []Value{p.class.ThisClass.object}
		} else {
			objs = vm.heap.instancesOf(p.class)
		}
		for _, o := range objs {
			e := vm.heap.entryOf(o)
			words += len(p.newNames) + e.indexedSize() + int(e.extra)
		}
		work = append(work, migration{plan: p, objects: objs})
	}
	vm.heap.ensureOld(words)

	// Rewire the hierarchy.
	if c.Superclass != super {
		c.Superclass.removeSubclass(c)
		c.Meta.Superclass.removeSubclass(c.Meta)
		c.Superclass = super
		c.Meta.Superclass = super.Meta
		super.subclasses = append(super.subclasses, c)
		super.Meta.subclasses = append(super.Meta.subclasses, c.Meta)
	}
	c.InstVars = append([]string(nil), def.InstVars...)
	c.Meta.InstVars = append([]string(nil), def.ClassInstVars...)
	c.Format = format
	for _, k := range c.withAllSubclasses() {
		k.NumSlots = k.instVarOffset() + len(k.InstVars)
		k.Meta.NumSlots = k.Meta.instVarOffset() + len(k.Meta.InstVars)
	}

	migrated := 0
	for _, w := range work {
		layout := w.plan.mapping()
		for _, o := range w.objects {
			vm.heap.reshape(o, layout)
			migrated++
		}
	}
	for _, p := range all {
		if p.changed() {
			vm.relink(p)
		}
	}
	vm.cache.InvalidateSubtree(c)
	log.Infof("vm %s: redefined %s (superclass %s, %v), migrated %d objects",
		vm.ID, c.Name, super.Name, def.InstVars, migrated)
	return c, nil
}

// planLayouts computes old and new instance variable lists for root and
// every class below it. side selects the class or its metaclass.
func planLayouts(root *Class, inherited, declared []string, side func(*Class) *Class) ([]layoutPlan, error) {
	if err := checkNames(side(root).Name, inherited, declared); err != nil {
		return nil, err
	}
	newNames := map[*Class][]string{}
	newNames[root] = append(append([]string(nil), inherited...), declared...)
	plans := []layoutPlan{{class: side(root), oldNames: side(root).AllInstVarNames(), newNames: newNames[root]}}
	for _, k := range root.withAllSubclasses()[1:] {
		parent := newNames[k.Superclass]
		own := side(k).InstVars
		if err := checkNames(side(k).Name, parent, own); err != nil {
			return nil, err
		}
		newNames[k] = append(append([]string(nil), parent...), own...)
		plans = append(plans, layoutPlan{class: side(k), oldNames: side(k).AllInstVarNames(), newNames: newNames[k]})
	}
	return plans, nil
}

// checkMethodsSurvive rejects a layout change that removes a variable an
// installed method of the class still reads or writes.
func (vm *VM) checkMethodsSurvive(p layoutPlan) error {
	if !p.changed() {
		return nil
	}
	var err error
	p.class.Methods.Each(func(_ uint32, m Method) {
		cm, ok := m.(*CompiledMethod)
		if !ok || err != nil {
			return
		}
		for _, unit := range cm.units() {
			instrs, derr := decodeAll(unit.code)
			if derr != nil {
				continue
			}
			for _, in := range instrs {
				if in.Op != OpPushIvar && in.Op != OpStoreIvar {
					continue
				}
				idx := int(in.U8(0))
				if idx >= len(p.oldNames) {
					continue
				}
				name := p.oldNames[idx]
				if !slices.Contains(p.newNames, name) {
					err = fmt.Errorf("%w: %s uses instance variable %q which the new definition removes",
						ErrSchemaConflict, cm, name)
					return
				}
			}
		}
	})
	return err
}

// relink rewrites the instance variable operands of every compiled method
// of p.class in place. Blocks and contexts already holding the method see
// the new layout too.
func (vm *VM) relink(p layoutPlan) {
	remap := func(code []byte) {
		instrs, err := decodeAll(code)
		if err != nil {
			return
		}
		for _, in := range instrs {
			if in.Op != OpPushIvar && in.Op != OpStoreIvar {
				continue
			}
			old := int(in.U8(0))
			if old < len(p.oldNames) {
				code[in.PC+1] = byte(slices.Index(p.newNames, p.oldNames[old]))
			}
		}
	}
	p.class.Methods.Each(func(_ uint32, m Method) {
		cm, ok := m.(*CompiledMethod)
		if !ok {
			return
		}
		for _, unit := range cm.units() {
			remap(unit.code)
		}
	})
}

// hasInstances reports whether any live object has class c exactly.
func (vm *VM) hasInstances(c *Class) bool {
	return len(vm.heap.instancesOf(c)) > 0
}
