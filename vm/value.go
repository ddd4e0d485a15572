package vm

import (
	"math"
)

// Value is a NaN-boxed reference to a Smalltalk object.
//
// Every value is a 64-bit IEEE 754 double. Non-float values live in the
// quiet-NaN space with a 3-bit tag selecting the payload interpretation:
//   - Float: a native double (anything that is not one of our tagged NaNs)
//   - SmallInteger: 48-bit signed integer
//   - Object: object-table handle (32 bits) plus a 16-bit serial
//   - Special: nil, true, false
//   - Symbol: interned symbol id
//   - Character: Unicode code point
//
// Immediates have classes like any heap object; dispatch only ever asks for
// the class of a value and never branches on its representation.
type Value uint64

const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// 3 tag bits inside the NaN mantissa
	tagMask uint64 = 0x0007000000000000

	// 48-bit payload
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000
	tagInt     uint64 = 0x0002000000000000
	tagSpecial uint64 = 0x0003000000000000
	tagSymbol  uint64 = 0x0004000000000000
	tagChar    uint64 = 0x0005000000000000

	intSignBit    uint64 = 0x0000800000000000
	intSignExtend uint64 = 0xFFFF000000000000

	handleMask  uint64 = 0x00000000FFFFFFFF
	serialShift        = 32
)

// maxSerial is the last serial a handle is issued with before it retires.
const maxSerial uint16 = 0xFFFF

const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// SmallInteger range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat reports whether v is a float. Infinities and untagged NaNs are
// floats; only our tagged quiet NaNs are not.
func (v Value) IsFloat() bool {
	bits := uint64(v)
	if bits&0x7FF0000000000000 != 0x7FF0000000000000 {
		return true
	}
	if bits&0x000FFFFFFFFFFFFF == 0 {
		return true
	}
	if bits&nanBits != nanBits {
		return true
	}
	return bits&tagMask == 0
}

func (v Value) hasTag(tag uint64) bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tag
}

// IsSmallInt reports whether v is an immediate integer.
func (v Value) IsSmallInt() bool { return v.hasTag(tagInt) }

// IsObject reports whether v refers to a heap object.
func (v Value) IsObject() bool { return v.hasTag(tagObject) }

// IsSymbol reports whether v is an interned symbol.
func (v Value) IsSymbol() bool { return v.hasTag(tagSymbol) }

// IsCharacter reports whether v is an immediate character.
func (v Value) IsCharacter() bool { return v.hasTag(tagChar) }

// IsSpecial reports whether v is nil, true or false.
func (v Value) IsSpecial() bool { return v.hasTag(tagSpecial) }

func (v Value) IsNil() bool  { return v == Nil }
func (v Value) IsBool() bool { return v == True || v == False }

// IsImmediate reports whether v lives entirely inside the word.
func (v Value) IsImmediate() bool { return !v.IsObject() }

// ---------------------------------------------------------------------------
// Floats
// ---------------------------------------------------------------------------

// Float64 returns v as a float64. Panics if v is not a float.
func (v Value) Float64() float64 {
	if !v.IsFloat() {
		panic("Value.Float64: not a float")
	}
	return math.Float64frombits(uint64(v))
}

// FromFloat64 boxes f. Computed NaNs are canonicalised so they can never
// collide with a tagged payload.
func FromFloat64(f float64) Value {
	if f != f {
		return Value(math.Float64bits(math.NaN()))
	}
	return Value(math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// SmallIntegers
// ---------------------------------------------------------------------------

// SmallInt returns v as an int64. Panics if v is not a SmallInteger.
func (v Value) SmallInt() int64 {
	if !v.IsSmallInt() {
		panic("Value.SmallInt: not a small integer")
	}
	payload := uint64(v) & payloadMask
	if payload&intSignBit != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// FromSmallInt boxes n. Panics if n is out of SmallInteger range.
func FromSmallInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		panic("FromSmallInt: value out of range")
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask))
}

// TryFromSmallInt boxes n, reporting false when n does not fit.
func TryFromSmallInt(n int64) (Value, bool) {
	if n > MaxSmallInt || n < MinSmallInt {
		return Nil, false
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask)), true
}

// FromBool returns True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Object references
// ---------------------------------------------------------------------------

// fromHandle builds a reference to table slot h stamped with serial s.
func fromHandle(h uint32, s uint16) Value {
	return Value(nanBits | tagObject | uint64(s)<<serialShift | uint64(h))
}

// handle returns the table index of an object reference.
func (v Value) handle() uint32 {
	return uint32(uint64(v) & handleMask)
}

// serial returns the allocation serial of an object reference.
func (v Value) serial() uint16 {
	return uint16((uint64(v) & payloadMask) >> serialShift)
}

// ---------------------------------------------------------------------------
// Symbols and characters
// ---------------------------------------------------------------------------

// SymbolID returns the interned id. Panics if v is not a symbol.
func (v Value) SymbolID() uint32 {
	if !v.IsSymbol() {
		panic("Value.SymbolID: not a symbol")
	}
	return uint32(uint64(v) & payloadMask)
}

// FromSymbolID boxes a symbol id.
func FromSymbolID(id uint32) Value {
	return Value(nanBits | tagSymbol | uint64(id))
}

// Rune returns the code point of a character. Panics if v is not a character.
func (v Value) Rune() rune {
	if !v.IsCharacter() {
		panic("Value.Rune: not a character")
	}
	return rune(uint64(v) & payloadMask)
}

// FromRune boxes a character.
func FromRune(r rune) Value {
	return Value(nanBits | tagChar | uint64(uint32(r)))
}
