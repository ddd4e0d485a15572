package vm

import (
	"fmt"
	"strings"
)

// CompiledMethod is the unit the front end hands to the runtime: a selector,
// argument and temporary counts, a literal table, a bytecode body and the
// bodies of the blocks it creates. Installed methods are immutable.
//
// Temporaries are numbered arguments first: temps [0, Arity) are the
// arguments, [Arity, NumTemps) the locals. Blocks share the literal table of
// their home method.
type CompiledMethod struct {
	Version  int
	Name     string // selector
	Arity    int
	NumTemps int
	Literals []Value
	Bytecode []byte
	Blocks   []*BlockMethod

	// Primitive, when set, runs before the bytecode body. If it returns
	// ErrPrimitiveFailed the bytecode runs instead.
	Primitive     PrimitiveFunc
	PrimitiveName string

	selector  uint32
	class     *Class
	caches    *InlineCacheTable
	installed bool
}

// BlockMethod is the compiled body of a block. Its temps are numbered like a
// method's: arguments first, then locals.
type BlockMethod struct {
	Arity    int
	NumTemps int
	Bytecode []byte

	caches *InlineCacheTable
}

func (m *CompiledMethod) Selector() uint32 { return m.selector }
func (m *CompiledMethod) Class() *Class    { return m.class }
func (m *CompiledMethod) NumArgs() int     { return m.Arity }

func (m *CompiledMethod) bind(class *Class, selector uint32) {
	m.class = class
	m.selector = selector
	m.installed = true
}

// Installed reports whether m has been placed in a method dictionary.
func (m *CompiledMethod) Installed() bool { return m.installed }

func (m *CompiledMethod) trace(visit func(Value)) {
	for _, lit := range m.Literals {
		if lit.IsObject() {
			visit(lit)
		}
	}
}

func (m *CompiledMethod) inlineCaches() *InlineCacheTable {
	if m.caches == nil {
		m.caches = NewInlineCacheTable()
	}
	return m.caches
}

func (b *BlockMethod) inlineCaches() *InlineCacheTable {
	if b.caches == nil {
		b.caches = NewInlineCacheTable()
	}
	return b.caches
}

// clone returns an uninstalled copy with fresh caches. Bytecode and block
// bodies are copied so the copy can be relinked independently.
func (m *CompiledMethod) clone() *CompiledMethod {
	c := *m
	c.Literals = append([]Value(nil), m.Literals...)
	c.Bytecode = append([]byte(nil), m.Bytecode...)
	c.Blocks = make([]*BlockMethod, len(m.Blocks))
	for i, b := range m.Blocks {
		c.Blocks[i] = &BlockMethod{
			Arity:    b.Arity,
			NumTemps: b.NumTemps,
			Bytecode: append([]byte(nil), b.Bytecode...),
		}
	}
	c.caches = nil
	c.installed = false
	c.class = nil
	return &c
}

// String renders "Class>>selector".
func (m *CompiledMethod) String() string {
	if m.class == nil {
		return ">>" + m.Name
	}
	return m.class.Name + ">>" + m.Name
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// codeUnit is the method body (index -1) or one of its blocks.
type codeUnit struct {
	index    int
	arity    int
	numTemps int
	code     []byte
}

func (m *CompiledMethod) units() []codeUnit {
	units := []codeUnit{{index: -1, arity: m.Arity, numTemps: m.NumTemps, code: m.Bytecode}}
	for i, b := range m.Blocks {
		units = append(units, codeUnit{index: i, arity: b.Arity, numTemps: b.NumTemps, code: b.Bytecode})
	}
	return units
}

// verify checks m against the instruction set before it is installed in
// class. The version is checked separately because a mismatch is fatal.
func (m *CompiledMethod) verify(symbols *SymbolTable, class *Class) error {
	if m.Arity != SelectorArity(m.Name) {
		return fmt.Errorf("%w: %s takes %d arguments, method declares %d", ErrInvalidMethod, m.Name, SelectorArity(m.Name), m.Arity)
	}
	if m.NumTemps < m.Arity || m.NumTemps > 255 {
		return fmt.Errorf("%w: %d temps for %d arguments", ErrInvalidMethod, m.NumTemps, m.Arity)
	}
	for i, b := range m.Blocks {
		if b.NumTemps < b.Arity || b.NumTemps > 255 {
			return fmt.Errorf("%w: block %d has %d temps for %d arguments", ErrInvalidMethod, i, b.NumTemps, b.Arity)
		}
	}

	units := m.units()
	decoded := make([][]Instruction, len(units))
	parent := make([]int, len(m.Blocks)) // enclosing unit index of each block
	for i := range parent {
		parent[i] = -2
	}
	for u, unit := range units {
		instrs, err := decodeAll(unit.code)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidMethod, unitName(unit), err)
		}
		decoded[u] = instrs
		for _, in := range instrs {
			if in.Op != OpCreateBlock {
				continue
			}
			bi := int(in.U16())
			if bi >= len(m.Blocks) {
				return fmt.Errorf("%w: %s pc %d: block %d out of range", ErrInvalidMethod, unitName(unit), in.PC, bi)
			}
			if parent[bi] != -2 && parent[bi] != unit.index {
				return fmt.Errorf("%w: block %d created from two scopes", ErrInvalidMethod, bi)
			}
			parent[bi] = unit.index
		}
	}

	// outerTemps returns the temp count of the unit depth levels out.
	outerTemps := func(unit codeUnit, depth int) (int, bool) {
		cur := unit.index
		for d := 0; d < depth; d++ {
			if cur < 0 || parent[cur] == -2 {
				return 0, false
			}
			cur = parent[cur]
		}
		if cur < 0 {
			return m.NumTemps, true
		}
		return m.Blocks[cur].NumTemps, true
	}

	for u, unit := range units {
		boundaries := make(map[int]bool, len(decoded[u])+1)
		for _, in := range decoded[u] {
			boundaries[in.PC] = true
		}
		boundaries[len(unit.code)] = true

		for _, in := range decoded[u] {
			if err := m.verifyInstruction(symbols, class, unit, in, boundaries, outerTemps); err != nil {
				return fmt.Errorf("%w: %s pc %d (%s): %v", ErrInvalidMethod, unitName(unit), in.PC, in.Op, err)
			}
		}
	}
	return nil
}

func (m *CompiledMethod) verifyInstruction(symbols *SymbolTable, class *Class, unit codeUnit, in Instruction,
	boundaries map[int]bool, outerTemps func(codeUnit, int) (int, bool)) error {

	literal := func(idx int) (Value, error) {
		if idx >= len(m.Literals) {
			return Nil, fmt.Errorf("literal %d out of range", idx)
		}
		return m.Literals[idx], nil
	}

	switch in.Op {
	case OpPushTemp, OpStoreTemp:
		if int(in.U8(0)) >= unit.numTemps {
			return fmt.Errorf("temp %d out of range", in.U8(0))
		}
	case OpPushIvar, OpStoreIvar:
		if int(in.U8(0)) >= class.NumSlots {
			return fmt.Errorf("instance variable %d out of range for %s", in.U8(0), class.Name)
		}
	case OpPushOuterTemp, OpStoreOuterTemp:
		depth, idx := int(in.U8(0)), int(in.U8(1))
		if depth == 0 {
			return fmt.Errorf("outer depth must be positive")
		}
		n, ok := outerTemps(unit, depth)
		if !ok {
			return fmt.Errorf("no scope %d levels out", depth)
		}
		if idx >= n {
			return fmt.Errorf("outer temp %d out of range", idx)
		}
	case OpPushLiteral:
		if _, err := literal(int(in.U16())); err != nil {
			return err
		}
	case OpPushGlobal, OpStoreGlobal:
		lit, err := literal(int(in.U16()))
		if err != nil {
			return err
		}
		if !lit.IsSymbol() {
			return fmt.Errorf("global name is not a symbol")
		}
	case OpSend, OpSendUnary, OpSendBinary, OpSendKeyword, OpSendSuper:
		lit, err := literal(int(in.U16()))
		if err != nil {
			return err
		}
		if !lit.IsSymbol() {
			return fmt.Errorf("selector is not a symbol")
		}
		want := SelectorArity(symbols.Name(lit.SymbolID()))
		argc := 0
		switch in.Op {
		case OpSendBinary:
			argc = 1
		case OpSend, OpSendKeyword, OpSendSuper:
			argc = int(in.U8(2))
		}
		if argc != want {
			return fmt.Errorf("%d arguments for #%s", argc, symbols.Name(lit.SymbolID()))
		}
	case OpJump, OpJumpTrue, OpJumpFalse:
		if !boundaries[in.JumpTarget()] {
			return fmt.Errorf("jump target %d is not an instruction boundary", in.JumpTarget())
		}
	}
	return nil
}

func unitName(u codeUnit) string {
	if u.index < 0 {
		return "method"
	}
	return fmt.Sprintf("block %d", u.index)
}

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

// CompiledMethodBuilder assembles a CompiledMethod.
type CompiledMethodBuilder struct {
	method  *CompiledMethod
	builder *BytecodeBuilder
}

// NewCompiledMethodBuilder starts a method for selector taking arity args.
func NewCompiledMethodBuilder(selector string, arity int) *CompiledMethodBuilder {
	return &CompiledMethodBuilder{
		method: &CompiledMethod{
			Version:  BytecodeVersion,
			Name:     selector,
			Arity:    arity,
			NumTemps: arity,
		},
		builder: NewBytecodeBuilder(),
	}
}

// SetNumTemps sets the total temp count (arguments included).
func (b *CompiledMethodBuilder) SetNumTemps(n int) *CompiledMethodBuilder {
	b.method.NumTemps = n
	return b
}

// SetPrimitive attaches a primitive that runs before the bytecode body.
func (b *CompiledMethodBuilder) SetPrimitive(name string, fn PrimitiveFunc) *CompiledMethodBuilder {
	b.method.PrimitiveName = name
	b.method.Primitive = fn
	return b
}

// AddLocal reserves a local temp and returns its index.
func (b *CompiledMethodBuilder) AddLocal() int {
	b.method.NumTemps++
	return b.method.NumTemps - 1
}

// AddLiteral adds v to the literal table, reusing an identical entry.
func (b *CompiledMethodBuilder) AddLiteral(v Value) uint16 {
	for i, lit := range b.method.Literals {
		if lit == v {
			return uint16(i)
		}
	}
	b.method.Literals = append(b.method.Literals, v)
	return uint16(len(b.method.Literals) - 1)
}

// AddSymbol interns name and adds it as a literal.
func (b *CompiledMethodBuilder) AddSymbol(symbols *SymbolTable, name string) uint16 {
	return b.AddLiteral(symbols.Value(name))
}

// AddBlock appends a block body and returns its index.
func (b *CompiledMethodBuilder) AddBlock(block *BlockMethod) uint16 {
	b.method.Blocks = append(b.method.Blocks, block)
	return uint16(len(b.method.Blocks) - 1)
}

// Bytecode returns the builder for the method body.
func (b *CompiledMethodBuilder) Bytecode() *BytecodeBuilder { return b.builder }

// Build finishes the method.
func (b *CompiledMethodBuilder) Build() *CompiledMethod {
	b.method.Bytecode = b.builder.Bytes()
	return b.method
}

// BlockMethodBuilder assembles a BlockMethod.
type BlockMethodBuilder struct {
	block   *BlockMethod
	builder *BytecodeBuilder
}

// NewBlockMethodBuilder starts a block taking arity args.
func NewBlockMethodBuilder(arity int) *BlockMethodBuilder {
	return &BlockMethodBuilder{
		block:   &BlockMethod{Arity: arity, NumTemps: arity},
		builder: NewBytecodeBuilder(),
	}
}

// AddLocal reserves a block-local temp and returns its index.
func (b *BlockMethodBuilder) AddLocal() int {
	b.block.NumTemps++
	return b.block.NumTemps - 1
}

// Bytecode returns the builder for the block body.
func (b *BlockMethodBuilder) Bytecode() *BytecodeBuilder { return b.builder }

// Build finishes the block.
func (b *BlockMethodBuilder) Build() *BlockMethod {
	b.block.Bytecode = b.builder.Bytes()
	return b.block
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble lists the method and its blocks. symbols resolves selector
// and global names; it may be nil.
func (m *CompiledMethod) Disassemble(symbols *SymbolTable) string {
	literal := func(idx int) string {
		if idx >= len(m.Literals) {
			return "?"
		}
		lit := m.Literals[idx]
		if lit.IsSymbol() && symbols != nil {
			return "#" + symbols.Name(lit.SymbolID())
		}
		return describeImmediate(lit)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (args=%d temps=%d", m, m.Arity, m.NumTemps)
	if m.PrimitiveName != "" {
		fmt.Fprintf(&sb, " primitive=%s", m.PrimitiveName)
	}
	sb.WriteString(")\n")
	sb.WriteString(Disassemble(m.Bytecode, literal))
	for i, b := range m.Blocks {
		fmt.Fprintf(&sb, "\nblock %d (args=%d temps=%d)\n", i, b.Arity, b.NumTemps)
		sb.WriteString(Disassemble(b.Bytecode, literal))
	}
	return sb.String()
}

// describeImmediate renders a literal without consulting the heap.
func describeImmediate(v Value) string {
	switch {
	case v.IsSmallInt():
		return fmt.Sprintf("%d", v.SmallInt())
	case v.IsFloat():
		return fmt.Sprintf("%g", v.Float64())
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsCharacter():
		return "$" + string(v.Rune())
	case v.IsSymbol():
		return fmt.Sprintf("#<symbol %d>", v.SymbolID())
	}
	return fmt.Sprintf("<object %d>", v.handle())
}
