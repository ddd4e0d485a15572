package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// BytecodeVersion identifies the instruction set and compiled-method layout.
// A runtime refuses methods produced for any other version.
const BytecodeVersion = 3

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single bytecode instruction. Multi-byte operands are
// little-endian and follow the opcode directly.
type Opcode byte

// Stack operations
const (
	OpNOP Opcode = 0x00 // no operation
	OpPOP Opcode = 0x01 // discard top of stack
	OpDUP Opcode = 0x02 // duplicate top of stack
)

// Push constants
const (
	OpPushNil     Opcode = 0x10 // push nil
	OpPushTrue    Opcode = 0x11 // push true
	OpPushFalse   Opcode = 0x12 // push false
	OpPushSelf    Opcode = 0x13 // push the receiver
	OpPushContext Opcode = 0x14 // push thisContext
	OpPushInt8    Opcode = 0x15 // push 8-bit signed integer
	OpPushInt32   Opcode = 0x16 // push 32-bit signed integer
	OpPushLiteral Opcode = 0x17 // push literal (16-bit index)
	OpPushFloat   Opcode = 0x18 // push inline float64
)

// Variables. Stores leave the stored value on the stack.
const (
	OpPushTemp       Opcode = 0x20 // push argument/temporary (8-bit index)
	OpStoreTemp      Opcode = 0x21 // store argument/temporary (8-bit index)
	OpPushIvar       Opcode = 0x22 // push instance variable (8-bit index)
	OpStoreIvar      Opcode = 0x23 // store instance variable (8-bit index)
	OpPushOuterTemp  Opcode = 0x24 // push temp of an enclosing context (8-bit depth, 8-bit index)
	OpStoreOuterTemp Opcode = 0x25 // store temp of an enclosing context (8-bit depth, 8-bit index)
	OpPushGlobal     Opcode = 0x26 // push global named by a literal symbol (16-bit index)
	OpStoreGlobal    Opcode = 0x27 // store global named by a literal symbol (16-bit index)
)

// Message sends. Selectors are literal symbols.
const (
	OpSend        Opcode = 0x30 // send (16-bit selector literal, 8-bit argc)
	OpSendUnary   Opcode = 0x31 // unary send (16-bit selector literal)
	OpSendBinary  Opcode = 0x32 // binary send (16-bit selector literal)
	OpSendKeyword Opcode = 0x33 // keyword send (16-bit selector literal, 8-bit argc)
	OpSendSuper   Opcode = 0x34 // send starting lookup above the method's class (16-bit, 8-bit)
)

// Special sends with a SmallInteger fast path. Non-integer receivers take
// the full send.
const (
	OpSendAdd       Opcode = 0x40 // +
	OpSendSub       Opcode = 0x41 // -
	OpSendMul       Opcode = 0x42 // *
	OpSendLT        Opcode = 0x43 // <
	OpSendGT        Opcode = 0x44 // >
	OpSendLE        Opcode = 0x45 // <=
	OpSendGE        Opcode = 0x46 // >=
	OpSendEQ        Opcode = 0x47 // =
	OpSendNE        Opcode = 0x48 // ~=
	OpSendIdentical Opcode = 0x49 // == (never looked up)
)

// Control flow. Offsets are relative to the end of the instruction.
const (
	OpJump      Opcode = 0x60 // unconditional jump (16-bit offset)
	OpJumpTrue  Opcode = 0x61 // pop, jump if true (16-bit offset)
	OpJumpFalse Opcode = 0x62 // pop, jump if false (16-bit offset)
)

// Returns
const (
	OpReturnTop      Opcode = 0x70 // return top of stack to the sender
	OpReturnSelf     Opcode = 0x71 // return the receiver
	OpReturnNil      Opcode = 0x72 // return nil
	OpNonLocalReturn Opcode = 0x73 // return top of stack from the home method
)

// Blocks
const (
	OpCreateBlock Opcode = 0x80 // push a closure over thisContext (16-bit block index)
	OpSendValue   Opcode = 0x81 // invoke a block (8-bit argc)
)

// Object creation
const (
	OpCreateArray Opcode = 0x90 // pop n values into a new Array (8-bit count)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP: {"NOP", 0},
	OpPOP: {"POP", 0},
	OpDUP: {"DUP", 0},

	OpPushNil:     {"PUSH_NIL", 0},
	OpPushTrue:    {"PUSH_TRUE", 0},
	OpPushFalse:   {"PUSH_FALSE", 0},
	OpPushSelf:    {"PUSH_SELF", 0},
	OpPushContext: {"PUSH_CONTEXT", 0},
	OpPushInt8:    {"PUSH_INT8", 1},
	OpPushInt32:   {"PUSH_INT32", 4},
	OpPushLiteral: {"PUSH_LITERAL", 2},
	OpPushFloat:   {"PUSH_FLOAT", 8},

	OpPushTemp:       {"PUSH_TEMP", 1},
	OpStoreTemp:      {"STORE_TEMP", 1},
	OpPushIvar:       {"PUSH_IVAR", 1},
	OpStoreIvar:      {"STORE_IVAR", 1},
	OpPushOuterTemp:  {"PUSH_OUTER_TEMP", 2},
	OpStoreOuterTemp: {"STORE_OUTER_TEMP", 2},
	OpPushGlobal:     {"PUSH_GLOBAL", 2},
	OpStoreGlobal:    {"STORE_GLOBAL", 2},

	OpSend:        {"SEND", 3},
	OpSendUnary:   {"SEND_UNARY", 2},
	OpSendBinary:  {"SEND_BINARY", 2},
	OpSendKeyword: {"SEND_KEYWORD", 3},
	OpSendSuper:   {"SEND_SUPER", 3},

	OpSendAdd:       {"SEND_ADD", 0},
	OpSendSub:       {"SEND_SUB", 0},
	OpSendMul:       {"SEND_MUL", 0},
	OpSendLT:        {"SEND_LT", 0},
	OpSendGT:        {"SEND_GT", 0},
	OpSendLE:        {"SEND_LE", 0},
	OpSendGE:        {"SEND_GE", 0},
	OpSendEQ:        {"SEND_EQ", 0},
	OpSendNE:        {"SEND_NE", 0},
	OpSendIdentical: {"SEND_IDENTICAL", 0},

	OpJump:      {"JUMP", 2},
	OpJumpTrue:  {"JUMP_TRUE", 2},
	OpJumpFalse: {"JUMP_FALSE", 2},

	OpReturnTop:      {"RETURN_TOP", 0},
	OpReturnSelf:     {"RETURN_SELF", 0},
	OpReturnNil:      {"RETURN_NIL", 0},
	OpNonLocalReturn: {"NON_LOCAL_RETURN", 0},

	OpCreateBlock: {"CREATE_BLOCK", 2},
	OpSendValue:   {"SEND_VALUE", 1},

	OpCreateArray: {"CREATE_ARRAY", 1},
}

// specialSelectors names the selector each special send stands for.
var specialSelectors = map[Opcode]string{
	OpSendAdd:       "+",
	OpSendSub:       "-",
	OpSendMul:       "*",
	OpSendLT:        "<",
	OpSendGT:        ">",
	OpSendLE:        "<=",
	OpSendGE:        ">=",
	OpSendEQ:        "=",
	OpSendNE:        "~=",
	OpSendIdentical: "==",
}

// Info returns metadata for op.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

func (op Opcode) isSend() bool {
	switch op {
	case OpSend, OpSendUnary, OpSendBinary, OpSendKeyword, OpSendSuper:
		return true
	}
	return false
}

func (op Opcode) isJump() bool {
	return op == OpJump || op == OpJumpTrue || op == OpJumpFalse
}

// ---------------------------------------------------------------------------
// BytecodeBuilder
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles bytecode. Front ends and tests use it to
// produce method bodies.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the assembled bytecode.
func (b *BytecodeBuilder) Bytes() []byte { return b.bytes }

// Len returns the current length in bytes.
func (b *BytecodeBuilder) Len() int { return len(b.bytes) }

// Emit appends an operand-less instruction.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an instruction with one 8-bit operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an instruction with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitBytes2 appends an instruction with two 8-bit operands.
func (b *BytecodeBuilder) EmitBytes2(op Opcode, a, c byte) {
	b.bytes = append(b.bytes, byte(op), a, c)
}

// EmitUint16 appends an instruction with a 16-bit operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an instruction with a 32-bit operand.
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
}

// EmitFloat64 appends PUSH_FLOAT.
func (b *BytecodeBuilder) EmitFloat64(f float64) {
	b.bytes = append(b.bytes, byte(OpPushFloat))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, math.Float64bits(f))
}

// EmitSend appends a send with a selector literal index and argument count.
func (b *BytecodeBuilder) EmitSend(op Opcode, selector uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(op), byte(selector), byte(selector>>8), argc)
}

// EmitPushInt pushes n using the shortest encoding.
func (b *BytecodeBuilder) EmitPushInt(n int32) {
	if n >= math.MinInt8 && n <= math.MaxInt8 {
		b.EmitInt8(OpPushInt8, int8(n))
		return
	}
	b.EmitInt32(OpPushInt32, n)
}

// Label is a jump target, possibly not yet placed.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// NewLabel creates an unplaced label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark places label at the current position and patches forward jumps.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		offset := label.position - (ref + 2)
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitJump appends a jump to label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	PC       int
	Op       Opcode
	Operands []byte
}

// Next returns the pc of the following instruction.
func (in Instruction) Next() int { return in.PC + 1 + len(in.Operands) }

// U8 returns operand byte i.
func (in Instruction) U8(i int) byte { return in.Operands[i] }

// U16 returns the 16-bit operand at the start of the operands.
func (in Instruction) U16() uint16 { return binary.LittleEndian.Uint16(in.Operands) }

// JumpTarget returns the absolute target of a jump.
func (in Instruction) JumpTarget() int {
	return in.Next() + int(int16(in.U16()))
}

// decodeAll splits bc into instructions, rejecting unknown opcodes and
// truncated operands.
func decodeAll(bc []byte) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(bc); {
		op := Opcode(bc[pc])
		info, ok := op.Info()
		if !ok {
			return nil, fmt.Errorf("pc %d: unknown opcode 0x%02X", pc, byte(op))
		}
		end := pc + 1 + info.OperandBytes
		if end > len(bc) {
			return nil, fmt.Errorf("pc %d: %s operands truncated", pc, op)
		}
		out = append(out, Instruction{PC: pc, Op: op, Operands: bc[pc+1 : end]})
		pc = end
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders bc one instruction per line. literal, if non-nil,
// describes literal operands.
func Disassemble(bc []byte, literal func(idx int) string) string {
	instrs, err := decodeAll(bc)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	var sb strings.Builder
	for i, in := range instrs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(disassembleInstruction(in, literal))
	}
	return sb.String()
}

func disassembleInstruction(in Instruction, literal func(int) string) string {
	lit := func(idx uint16) string {
		if literal == nil {
			return fmt.Sprintf("%d", idx)
		}
		return fmt.Sprintf("%d (%s)", idx, literal(int(idx)))
	}
	name := in.Op.String()
	switch in.Op {
	case OpPushInt8:
		return fmt.Sprintf("%04d  %s %d", in.PC, name, int8(in.U8(0)))
	case OpPushTemp, OpStoreTemp, OpPushIvar, OpStoreIvar, OpCreateArray, OpSendValue:
		return fmt.Sprintf("%04d  %s %d", in.PC, name, in.U8(0))
	case OpPushOuterTemp, OpStoreOuterTemp:
		return fmt.Sprintf("%04d  %s depth=%d index=%d", in.PC, name, in.U8(0), in.U8(1))
	case OpPushLiteral, OpPushGlobal, OpStoreGlobal, OpSendUnary, OpSendBinary:
		return fmt.Sprintf("%04d  %s %s", in.PC, name, lit(in.U16()))
	case OpCreateBlock:
		return fmt.Sprintf("%04d  %s %d", in.PC, name, in.U16())
	case OpSend, OpSendKeyword, OpSendSuper:
		return fmt.Sprintf("%04d  %s %s argc=%d", in.PC, name, lit(in.U16()), in.U8(2))
	case OpJump, OpJumpTrue, OpJumpFalse:
		return fmt.Sprintf("%04d  %s %d (-> %04d)", in.PC, name, int16(in.U16()), in.JumpTarget())
	case OpPushInt32:
		return fmt.Sprintf("%04d  %s %d", in.PC, name, int32(binary.LittleEndian.Uint32(in.Operands)))
	case OpPushFloat:
		return fmt.Sprintf("%04d  %s %g", in.PC, name, math.Float64frombits(binary.LittleEndian.Uint64(in.Operands)))
	}
	return fmt.Sprintf("%04d  %s", in.PC, name)
}
