package vm

import (
	"unicode"
)

// registerCharacterPrimitives registers primitives on CharacterClass.
// Characters are immediates, so = is identity.
func (vm *VM) registerCharacterPrimitives() {
	c := vm.CharacterClass

	// --- Instance methods ---

	vm.primitive(c, "value", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(recv.Rune())), nil
	}))
	vm.primitive(c, "asInteger", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromSmallInt(int64(recv.Rune())), nil
	}))
	vm.primitive(c, "asCharacter", prim0(func(vm *VM, recv Value) (Value, error) {
		return recv, nil
	}))
	vm.primitive(c, "asString", prim0(func(vm *VM, recv Value) (Value, error) {
		return vm.newString(string(recv.Rune())), nil
	}))
	vm.primitive(c, "asUppercase", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromRune(unicode.ToUpper(recv.Rune())), nil
	}))
	vm.primitive(c, "asLowercase", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromRune(unicode.ToLower(recv.Rune())), nil
	}))
	vm.primitive(c, "isLetter", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(unicode.IsLetter(recv.Rune())), nil
	}))
	vm.primitive(c, "isDigit", prim0(func(vm *VM, recv Value) (Value, error) {
		return FromBool(unicode.IsDigit(recv.Rune())), nil
	}))
	vm.primitive(c, "isVowel", prim0(func(vm *VM, recv Value) (Value, error) {
		switch unicode.ToLower(recv.Rune()) {
		case 'a', 'e', 'i', 'o', 'u':
			return True, nil
		}
		return False, nil
	}))

	order := func(pred func(a, b rune) bool) PrimitiveFunc {
		return prim1(func(vm *VM, recv, arg Value) (Value, error) {
			if !arg.IsCharacter() {
				return Nil, ErrPrimitiveFailed
			}
			return FromBool(pred(recv.Rune(), arg.Rune())), nil
		})
	}
	vm.primitive(c, "<", order(func(a, b rune) bool { return a < b }))
	vm.primitive(c, ">", order(func(a, b rune) bool { return a > b }))
	vm.primitive(c, "<=", order(func(a, b rune) bool { return a <= b }))
	vm.primitive(c, ">=", order(func(a, b rune) bool { return a >= b }))

	// --- Class methods ---

	vm.classPrimitive(c, "value:", prim1(func(vm *VM, _, code Value) (Value, error) {
		n, err := intArg(code)
		if err != nil {
			return Nil, err
		}
		if n < 0 || n > unicode.MaxRune {
			return Nil, invalidArgument("%d is not a code point", n)
		}
		return FromRune(rune(n)), nil
	}))
}
