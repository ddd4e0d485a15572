package vm

import (
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class describes the layout and behaviour of its instances. Every class has
// a metaclass (Meta) holding its class-side methods; a metaclass points back
// at its sole instance through ThisClass. The Go record is mirrored by a
// heap class object so classes have identity and class-side state like any
// other object.
//
// The metaclass hierarchy parallels the class hierarchy, and the root
// metaclass inherits from Class:
//
//	Object class superclass == Class
//	Foo class class        == Metaclass
//	Metaclass class class  == Metaclass
type Class struct {
	Name       string
	Superclass *Class
	InstVars   []string // declared by this class only
	NumSlots   int      // named slots including inherited ones
	Format     Format   // instance storage format
	Methods    *MethodDictionary

	Meta      *Class // nil for metaclasses
	ThisClass *Class // sole instance, set on metaclasses only

	subclasses []*Class
	object     Value
	removed    bool
}

func newClass(name string, super *Class, instVars []string, format Format) *Class {
	c := &Class{
		Name:       name,
		Superclass: super,
		InstVars:   append([]string(nil), instVars...),
		Format:     format,
		Methods:    NewMethodDictionary(),
		object:     Nil,
	}
	c.NumSlots = c.instVarOffset() + len(c.InstVars)
	if super != nil {
		super.subclasses = append(super.subclasses, c)
	}
	return c
}

// IsMeta reports whether c is a metaclass.
func (c *Class) IsMeta() bool { return c.ThisClass != nil }

// Object returns the class object that represents c in the heap.
func (c *Class) Object() Value { return c.object }

func (c *Class) String() string { return c.Name }

// InstVarIndex returns the slot index of an instance variable, searching
// inherited variables too, or -1.
func (c *Class) InstVarIndex(name string) int {
	for i, n := range c.InstVars {
		if n == name {
			return c.instVarOffset() + i
		}
	}
	if c.Superclass != nil {
		return c.Superclass.InstVarIndex(name)
	}
	return -1
}

func (c *Class) instVarOffset() int {
	if c.Superclass == nil {
		return 0
	}
	return c.Superclass.NumSlots
}

// AllInstVarNames returns every instance variable, inherited ones first.
func (c *Class) AllInstVarNames() []string {
	if c.Superclass == nil {
		return append([]string(nil), c.InstVars...)
	}
	return append(c.Superclass.AllInstVarNames(), c.InstVars...)
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Superclass {
		if cur == other {
			return true
		}
	}
	return false
}

// InheritsFrom reports whether other is a strict superclass of c.
func (c *Class) InheritsFrom(other *Class) bool {
	return c != other && c.IsSubclassOf(other)
}

// Subclasses returns the direct subclasses of c.
func (c *Class) Subclasses() []*Class {
	return append([]*Class(nil), c.subclasses...)
}

// withAllSubclasses returns c followed by every class below it.
func (c *Class) withAllSubclasses() []*Class {
	out := []*Class{c}
	for i := 0; i < len(out); i++ {
		out = append(out, out[i].subclasses...)
	}
	return out
}

func (c *Class) removeSubclass(sub *Class) {
	for i, s := range c.subclasses {
		if s == sub {
			c.subclasses = append(c.subclasses[:i], c.subclasses[i+1:]...)
			return
		}
	}
}

// Depth returns the number of superclasses above c.
func (c *Class) Depth() int {
	d := 0
	for cur := c.Superclass; cur != nil; cur = cur.Superclass {
		d++
	}
	return d
}

// lookup walks the superclass chain from c for selector. It never consults
// a cache.
func (c *Class) lookup(selector uint32) Method {
	for cur := c; cur != nil; cur = cur.Superclass {
		if m := cur.Methods.At(selector); m != nil {
			return m
		}
	}
	return nil
}

// trace keeps the classes and method literals a class refers to alive.
func (c *Class) trace(visit func(Value)) {
	if c.Superclass != nil {
		visit(c.Superclass.object)
	}
	if c.Meta != nil {
		visit(c.Meta.object)
	}
	if c.ThisClass != nil {
		visit(c.ThisClass.object)
	}
	for _, m := range c.Methods.methods {
		if cm, ok := m.(*CompiledMethod); ok {
			cm.trace(visit)
		}
	}
}

// article returns "a" or "an" for the class name.
func (c *Class) article() string {
	if c.Name != "" && strings.ContainsRune("AEIOUaeiou", rune(c.Name[0])) {
		return "an"
	}
	return "a"
}

// ---------------------------------------------------------------------------
// ClassTable
// ---------------------------------------------------------------------------

// ClassTable is the registry of named, non-meta classes.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates an empty registry.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Class)}
}

// Register adds c, replacing any class of the same name.
func (ct *ClassTable) Register(c *Class) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.classes[c.Name] = c
}

// Remove deletes the class called name.
func (ct *ClassTable) Remove(name string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.classes, name)
}

// Lookup returns the class called name, or nil.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// All returns every registered class sorted by name.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}

// each calls fn for every class and its metaclass without copying.
func (ct *ClassTable) each(fn func(c *Class)) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	for _, c := range ct.classes {
		fn(c)
		if c.Meta != nil {
			fn(c.Meta)
		}
	}
}
