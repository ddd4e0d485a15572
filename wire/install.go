package wire

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/smalt/vm"
)

// Installed lists what Install put into a VM.
type Installed struct {
	Classes []*vm.Class
	Methods []*vm.CompiledMethod
}

// Install defines the artifact's classes, superclasses first, then installs
// its methods. Existing classes of the same name are redefined in place.
// Install stops at the first failure; classes and methods installed before
// it stay installed.
func Install(machine *vm.VM, a *Artifact) (*Installed, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	order, err := classOrder(a.Classes)
	if err != nil {
		return nil, err
	}
	out := &Installed{}
	for _, def := range order {
		format, _ := def.format()
		super := def.Superclass
		if super == "" {
			super = "Object"
		}
		c, err := machine.Define(vm.ClassDefinition{
			Name:          def.Name,
			Superclass:    super,
			InstVars:      def.InstVars,
			ClassInstVars: def.ClassInstVars,
			Format:        format,
		})
		if err != nil {
			return out, fmt.Errorf("class %s: %w", def.Name, err)
		}
		out.Classes = append(out.Classes, c)
	}
	for _, def := range a.Methods {
		class := machine.ClassNamed(def.Class)
		if class == nil {
			return out, fmt.Errorf("method %s: %w: %s", def.qualifiedName(), vm.ErrUnknownClass, def.Class)
		}
		if def.Meta {
			class = class.Meta
		}
		m, err := def.build(machine, a.Version)
		if err != nil {
			return out, fmt.Errorf("method %s: %w", def.qualifiedName(), err)
		}
		if err := machine.InstallMethod(class, m); err != nil {
			return out, fmt.Errorf("method %s: %w", def.qualifiedName(), err)
		}
		out.Methods = append(out.Methods, m)
	}
	log.Infof("installed %d classes and %d methods into vm %s", len(out.Classes), len(out.Methods), machine.ID)
	return out, nil
}

// classOrder sorts defs so every superclass defined in the artifact comes
// before its subclasses. Ties keep artifact order.
func classOrder(defs []ClassDef) ([]ClassDef, error) {
	byName := make(map[string]int, len(defs))
	for i, d := range defs {
		byName[d.Name] = i
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(defs))
	order := make([]ClassDef, 0, len(defs))
	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: superclass cycle %s", vm.ErrSchemaConflict, strings.Join(append(path, defs[i].Name), " -> "))
		}
		state[i] = visiting
		if j, ok := byName[defs[i].Superclass]; ok {
			if err := visit(j, append(path, defs[i].Name)); err != nil {
				return err
			}
		}
		state[i] = done
		order = append(order, defs[i])
		return nil
	}
	for i := range defs {
		if err := visit(i, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (def MethodDef) build(machine *vm.VM, version int) (*vm.CompiledMethod, error) {
	m := &vm.CompiledMethod{
		Version:       version,
		Name:          def.Selector,
		Arity:         def.Arity,
		NumTemps:      def.NumTemps,
		Bytecode:      append([]byte(nil), def.Bytecode...),
		PrimitiveName: def.Primitive,
	}
	for _, lit := range def.Literals {
		v, err := lit.value(machine)
		if err != nil {
			return nil, err
		}
		m.Literals = append(m.Literals, v)
	}
	for _, b := range def.Blocks {
		m.Blocks = append(m.Blocks, &vm.BlockMethod{
			Arity:    b.Arity,
			NumTemps: b.NumTemps,
			Bytecode: append([]byte(nil), b.Bytecode...),
		})
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// ExportClass describes c as a ClassDef.
func ExportClass(c *vm.Class) ClassDef {
	def := ClassDef{
		Name:     c.Name,
		InstVars: append([]string(nil), c.InstVars...),
	}
	if c.Superclass != nil && c.Superclass.Name != "Object" {
		def.Superclass = c.Superclass.Name
	}
	if c.Meta != nil && len(c.Meta.InstVars) > 0 {
		def.ClassInstVars = append([]string(nil), c.Meta.InstVars...)
	}
	if c.Format != vm.FormatFixed {
		def.Format = c.Format.String()
	}
	return def
}

// ExportMethod converts an installed method back to its wire form. Methods
// whose primitive was supplied as a Go function rather than by name cannot
// be exported.
func ExportMethod(machine *vm.VM, m *vm.CompiledMethod) (MethodDef, error) {
	class := m.Class()
	if class == nil {
		return MethodDef{}, fmt.Errorf("%s is not installed", m.Name)
	}
	def := MethodDef{
		Class:     class.Name,
		Selector:  m.Name,
		Arity:     m.Arity,
		NumTemps:  m.NumTemps,
		Bytecode:  append([]byte(nil), m.Bytecode...),
		Primitive: m.PrimitiveName,
	}
	if class.IsMeta() {
		def.Class = class.ThisClass.Name
		def.Meta = true
	}
	if m.Primitive != nil && m.PrimitiveName == "" {
		return MethodDef{}, fmt.Errorf("%s has an anonymous primitive", def.qualifiedName())
	}
	for _, v := range m.Literals {
		lit, err := literalOf(machine, v)
		if err != nil {
			return MethodDef{}, fmt.Errorf("%s: %w", def.qualifiedName(), err)
		}
		def.Literals = append(def.Literals, lit)
	}
	for _, b := range m.Blocks {
		def.Blocks = append(def.Blocks, BlockDef{
			Arity:    b.Arity,
			NumTemps: b.NumTemps,
			Bytecode: append([]byte(nil), b.Bytecode...),
		})
	}
	return def, nil
}

// Export builds an artifact holding classes and every compiled method
// defined on them or their metaclasses, in selector order.
func Export(machine *vm.VM, classes ...*vm.Class) (*Artifact, error) {
	a := &Artifact{Version: vm.BytecodeVersion}
	for _, c := range classes {
		a.Classes = append(a.Classes, ExportClass(c))
		for _, owner := range []*vm.Class{c, c.Meta} {
			if owner == nil {
				continue
			}
			var defs []MethodDef
			var err error
			owner.Methods.Each(func(_ uint32, method vm.Method) {
				cm, ok := method.(*vm.CompiledMethod)
				if !ok || err != nil {
					return
				}
				var def MethodDef
				def, err = ExportMethod(machine, cm)
				defs = append(defs, def)
			})
			if err != nil {
				return nil, err
			}
			sort.Slice(defs, func(i, j int) bool { return defs[i].Selector < defs[j].Selector })
			a.Methods = append(a.Methods, defs...)
		}
	}
	return a, nil
}

// SplitEntry parses "Class>>selector".
func SplitEntry(entry string) (class, selector string, err error) {
	class, selector, ok := strings.Cut(entry, ">>")
	if !ok || class == "" || selector == "" {
		return "", "", fmt.Errorf("entry point %q is not of the form Class>>selector", entry)
	}
	return class, selector, nil
}
