// Package wire defines the compiled-method artifact a front end hands to the
// runtime, its CBOR encoding, and an installer that feeds artifacts into a
// VM.
package wire

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/chazu/smalt/vm"
)

// Artifact is one unit of compiled code: class definitions plus the methods
// installed on them.
type Artifact struct {
	Version int         `cbor:"1,keyasint"`
	Classes []ClassDef  `cbor:"2,keyasint,omitempty"`
	Methods []MethodDef `cbor:"3,keyasint,omitempty"`
	// Entry optionally names a class-side unary method to run after
	// installation, as "Class>>selector".
	Entry string `cbor:"4,keyasint,omitempty"`
}

// ClassDef defines or redefines a class.
type ClassDef struct {
	Name          string   `cbor:"1,keyasint"`
	Superclass    string   `cbor:"2,keyasint,omitempty"` // empty means Object
	InstVars      []string `cbor:"3,keyasint,omitempty"`
	ClassInstVars []string `cbor:"4,keyasint,omitempty"`
	Format        string   `cbor:"5,keyasint,omitempty"` // vm.Format name, default fixed
}

// MethodDef is a compiled method for Class (or its metaclass when Meta is
// set).
type MethodDef struct {
	Class     string     `cbor:"1,keyasint"`
	Meta      bool       `cbor:"2,keyasint,omitempty"`
	Selector  string     `cbor:"3,keyasint"`
	Arity     int        `cbor:"4,keyasint"`
	NumTemps  int        `cbor:"5,keyasint"`
	Literals  []Literal  `cbor:"6,keyasint,omitempty"`
	Bytecode  []byte     `cbor:"7,keyasint"`
	Blocks    []BlockDef `cbor:"8,keyasint,omitempty"`
	Primitive string     `cbor:"9,keyasint,omitempty"` // registered primitive name
}

// BlockDef is the body of a block literal inside a method.
type BlockDef struct {
	Arity    int    `cbor:"1,keyasint"`
	NumTemps int    `cbor:"2,keyasint"`
	Bytecode []byte `cbor:"3,keyasint"`
}

// LiteralKind tags the variant held by a Literal.
type LiteralKind uint8

const (
	LiteralNil LiteralKind = iota
	LiteralTrue
	LiteralFalse
	LiteralInt
	LiteralLargeInt // Text holds the decimal digits
	LiteralFloat
	LiteralChar
	LiteralSymbol
	LiteralString
	LiteralArray
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralNil:
		return "nil"
	case LiteralTrue:
		return "true"
	case LiteralFalse:
		return "false"
	case LiteralInt:
		return "int"
	case LiteralLargeInt:
		return "large-int"
	case LiteralFloat:
		return "float"
	case LiteralChar:
		return "char"
	case LiteralSymbol:
		return "symbol"
	case LiteralString:
		return "string"
	case LiteralArray:
		return "array"
	}
	return fmt.Sprintf("literal-kind(%d)", uint8(k))
}

// Literal is a tagged method literal.
type Literal struct {
	Kind     LiteralKind `cbor:"1,keyasint"`
	Int      int64       `cbor:"2,keyasint,omitempty"`
	Float    float64     `cbor:"3,keyasint,omitempty"`
	Text     string      `cbor:"4,keyasint,omitempty"`
	Elements []Literal   `cbor:"5,keyasint,omitempty"`
}

// Literal constructors for front ends and tests.

func Int(n int64) Literal        { return Literal{Kind: LiteralInt, Int: n} }
func Float(f float64) Literal    { return Literal{Kind: LiteralFloat, Float: f} }
func Char(r rune) Literal        { return Literal{Kind: LiteralChar, Int: int64(r)} }
func Symbol(s string) Literal    { return Literal{Kind: LiteralSymbol, Text: s} }
func String(s string) Literal    { return Literal{Kind: LiteralString, Text: s} }
func Array(e ...Literal) Literal { return Literal{Kind: LiteralArray, Elements: e} }

func Bool(b bool) Literal {
	if b {
		return Literal{Kind: LiteralTrue}
	}
	return Literal{Kind: LiteralFalse}
}

// Nil is the nil literal.
var Nil = Literal{Kind: LiteralNil}

// Validate reports every structural problem in a: duplicate classes or
// methods, unknown formats and literal kinds, and arities that do not match
// selectors. It does not consult a VM.
func (a *Artifact) Validate() error {
	var errs *multierror.Error
	if a.Version != vm.BytecodeVersion {
		errs = multierror.Append(errs, fmt.Errorf("%w: artifact version %d, runtime %d",
			ErrVersionMismatch, a.Version, vm.BytecodeVersion))
	}
	classes := make(map[string]bool, len(a.Classes))
	for _, c := range a.Classes {
		if c.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("class with empty name"))
			continue
		}
		if classes[c.Name] {
			errs = multierror.Append(errs, fmt.Errorf("class %s defined twice", c.Name))
		}
		classes[c.Name] = true
		if _, err := c.format(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	methods := make(map[string]bool, len(a.Methods))
	for _, m := range a.Methods {
		key := m.qualifiedName()
		if methods[key] {
			errs = multierror.Append(errs, fmt.Errorf("method %s defined twice", key))
		}
		methods[key] = true
		if got := vm.SelectorArity(m.Selector); got != m.Arity {
			errs = multierror.Append(errs, fmt.Errorf("method %s: arity %d, selector takes %d", key, m.Arity, got))
		}
		for _, lit := range m.Literals {
			if err := lit.validate(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("method %s: %w", key, err))
			}
		}
	}
	if a.Entry != "" {
		if _, _, err := SplitEntry(a.Entry); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (c ClassDef) format() (vm.Format, error) {
	if c.Format == "" {
		return vm.FormatFixed, nil
	}
	f, ok := vm.ParseFormat(c.Format)
	if !ok || f > vm.FormatWeak {
		return 0, fmt.Errorf("class %s: unknown format %q", c.Name, c.Format)
	}
	return f, nil
}

func (m MethodDef) qualifiedName() string {
	if m.Meta {
		return m.Class + " class>>" + m.Selector
	}
	return m.Class + ">>" + m.Selector
}

func (l Literal) validate() error {
	if l.Kind > LiteralArray {
		return fmt.Errorf("unknown literal kind %d", l.Kind)
	}
	for _, e := range l.Elements {
		if err := e.validate(); err != nil {
			return err
		}
	}
	return nil
}
