package wire

import (
	"fmt"
	"math/big"

	"github.com/chazu/smalt/vm"
)

// value materialises l in machine. Strings, arrays and large integers
// become immutable literal objects that live as long as the VM.
func (l Literal) value(machine *vm.VM) (vm.Value, error) {
	switch l.Kind {
	case LiteralNil:
		return vm.Nil, nil
	case LiteralTrue:
		return vm.True, nil
	case LiteralFalse:
		return vm.False, nil
	case LiteralInt:
		return machine.LiteralInteger(big.NewInt(l.Int)), nil
	case LiteralLargeInt:
		n, ok := new(big.Int).SetString(l.Text, 10)
		if !ok {
			return vm.Nil, fmt.Errorf("malformed integer literal %q", l.Text)
		}
		return machine.LiteralInteger(n), nil
	case LiteralFloat:
		return vm.FromFloat64(l.Float), nil
	case LiteralChar:
		return vm.FromRune(rune(l.Int)), nil
	case LiteralSymbol:
		return machine.Symbol(l.Text), nil
	case LiteralString:
		return machine.LiteralString(l.Text), nil
	case LiteralArray:
		elems := make([]vm.Value, len(l.Elements))
		for i, e := range l.Elements {
			v, err := e.value(machine)
			if err != nil {
				return vm.Nil, err
			}
			elems[i] = v
		}
		return machine.LiteralArray(elems...), nil
	}
	return vm.Nil, fmt.Errorf("unknown literal kind %d", l.Kind)
}

// literalOf converts a method literal back to its wire form.
func literalOf(machine *vm.VM, v vm.Value) (Literal, error) {
	switch {
	case v == vm.Nil:
		return Nil, nil
	case v == vm.True || v == vm.False:
		return Bool(v == vm.True), nil
	case v.IsSmallInt():
		return Int(v.SmallInt()), nil
	case v.IsFloat():
		return Float(v.Float64()), nil
	case v.IsCharacter():
		return Char(v.Rune()), nil
	case v.IsSymbol():
		return Symbol(machine.Symbols.Name(v.SymbolID())), nil
	}
	class := machine.ClassOf(v)
	switch {
	case class.IsSubclassOf(machine.StringClass):
		s, _ := machine.StringValue(v)
		return String(s), nil
	case class.IsSubclassOf(machine.ArrayClass):
		elems, _ := machine.ArrayElements(v)
		out := make([]Literal, len(elems))
		for i, e := range elems {
			l, err := literalOf(machine, e)
			if err != nil {
				return Nil, err
			}
			out[i] = l
		}
		return Array(out...), nil
	}
	if n, ok := machine.IntegerValue(v); ok {
		return Literal{Kind: LiteralLargeInt, Text: n.String()}, nil
	}
	return Nil, fmt.Errorf("%s literal has no wire form", class.Name)
}
