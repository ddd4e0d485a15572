package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Floats
// ---------------------------------------------------------------------------

func TestFloatRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		1.0,
		-1.0,
		3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Errorf("FromFloat64(%v).IsFloat() = false, want true", f)
			continue
		}
		if got := v.Float64(); got != f {
			t.Errorf("FromFloat64(%v).Float64() = %v, want %v", f, got, f)
		}
	}
}

func TestComputedNaNStaysFloat(t *testing.T) {
	zero := 0.0
	v := FromFloat64(zero / zero)
	if !v.IsFloat() {
		t.Fatal("computed NaN should be a float")
	}
	if v.IsObject() || v.IsSmallInt() || v.IsSymbol() {
		t.Error("computed NaN collided with a tagged payload")
	}
	if !math.IsNaN(v.Float64()) {
		t.Error("NaN round trip failed")
	}
}

// ---------------------------------------------------------------------------
// SmallIntegers
// ---------------------------------------------------------------------------

func TestSmallIntRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -1, 42, -42, MaxSmallInt, MinSmallInt, 1 << 40, -(1 << 40)}
	for _, n := range tests {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d).IsSmallInt() = false", n)
			continue
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("FromSmallInt(%d).SmallInt() = %d", n, got)
		}
	}
}

func TestTryFromSmallInt(t *testing.T) {
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Error("TryFromSmallInt(MaxSmallInt+1) should fail")
	}
	if _, ok := TryFromSmallInt(MinSmallInt - 1); ok {
		t.Error("TryFromSmallInt(MinSmallInt-1) should fail")
	}
	v, ok := TryFromSmallInt(-7)
	if !ok || v.SmallInt() != -7 {
		t.Errorf("TryFromSmallInt(-7) = %v, %v", v, ok)
	}
}

func TestFromSmallIntPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	FromSmallInt(MaxSmallInt + 1)
}

// ---------------------------------------------------------------------------
// Object references
// ---------------------------------------------------------------------------

func TestHandleRoundTrip(t *testing.T) {
	tests := []struct {
		handle uint32
		serial uint16
	}{
		{1, 0},
		{1, 1},
		{0xFFFFFFFF, 0xFFFF},
		{12345, 777},
	}
	for _, tt := range tests {
		v := fromHandle(tt.handle, tt.serial)
		if !v.IsObject() {
			t.Errorf("fromHandle(%d, %d) is not an object", tt.handle, tt.serial)
			continue
		}
		if v.handle() != tt.handle || v.serial() != tt.serial {
			t.Errorf("fromHandle(%d, %d) = (%d, %d)", tt.handle, tt.serial, v.handle(), v.serial())
		}
	}
}

func TestSerialDistinguishesReuse(t *testing.T) {
	a := fromHandle(10, 1)
	b := fromHandle(10, 2)
	if a == b {
		t.Error("references with different serials must differ")
	}
}

// ---------------------------------------------------------------------------
// Specials, symbols, characters
// ---------------------------------------------------------------------------

func TestSpecials(t *testing.T) {
	if !Nil.IsNil() || !Nil.IsSpecial() || Nil.IsBool() {
		t.Error("Nil predicates wrong")
	}
	if !True.IsBool() || !False.IsBool() {
		t.Error("booleans should be IsBool")
	}
	if FromBool(true) != True || FromBool(false) != False {
		t.Error("FromBool wrong")
	}
}

func TestSymbolAndCharacter(t *testing.T) {
	s := FromSymbolID(99)
	if !s.IsSymbol() || s.SymbolID() != 99 {
		t.Errorf("symbol round trip: %v", s)
	}
	c := FromRune('λ')
	if !c.IsCharacter() || c.Rune() != 'λ' {
		t.Errorf("character round trip: %v", c)
	}
	if c.IsSymbol() || s.IsCharacter() {
		t.Error("symbol and character tags overlap")
	}
}

func TestDistinctTags(t *testing.T) {
	values := []Value{
		FromFloat64(1.5),
		FromSmallInt(1),
		fromHandle(1, 0),
		Nil,
		FromSymbolID(1),
		FromRune('a'),
	}
	checks := []func(Value) bool{
		Value.IsFloat,
		Value.IsSmallInt,
		Value.IsObject,
		Value.IsSpecial,
		Value.IsSymbol,
		Value.IsCharacter,
	}
	for i, v := range values {
		for j, check := range checks {
			if got, want := check(v), i == j; got != want {
				t.Errorf("value %d check %d = %v, want %v", i, j, got, want)
			}
		}
	}
}
