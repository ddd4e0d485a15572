package vm

// Format describes how an object's storage is laid out.
type Format uint8

const (
	// FormatFixed: named instance variables only.
	FormatFixed Format = iota
	// FormatIndexable: named variables followed by indexed pointer slots.
	FormatIndexable
	// FormatBytes: named variables plus an indexed byte payload.
	FormatBytes
	// FormatWeak: named variables plus indexed slots the collector does not
	// trace. Slots whose referent dies are set to nil.
	FormatWeak
	// FormatBehavior: class objects. The native part is the *Class, the
	// named slots hold class-side instance variables.
	FormatBehavior
	// FormatContext: execution contexts (native *Context).
	FormatContext
	// FormatBlock: block closures (native *BlockClosure).
	FormatBlock
)

func (f Format) String() string {
	switch f {
	case FormatFixed:
		return "fixed"
	case FormatIndexable:
		return "indexable"
	case FormatBytes:
		return "bytes"
	case FormatWeak:
		return "weak"
	case FormatBehavior:
		return "behavior"
	case FormatContext:
		return "context"
	case FormatBlock:
		return "block"
	}
	return "unknown"
}

// IsIndexable reports whether instances carry an indexed part.
func (f Format) IsIndexable() bool {
	return f == FormatIndexable || f == FormatBytes || f == FormatWeak
}

// isNative reports whether instances carry a Go payload.
func (f Format) isNative() bool {
	return f == FormatBehavior || f == FormatContext || f == FormatBlock
}

type generation uint8

const (
	genFree generation = iota
	genYoung
	genOld
)

const (
	flagMarked uint8 = 1 << iota
	flagRemembered
	flagImmutable
)

// headerWords is what every object is charged against its generation's
// budget on top of its slots.
const headerWords = 2

// tracer is implemented by native payloads holding references the
// collector must follow.
type tracer interface {
	trace(visit func(Value))
}

// entry is one object-table slot. A Value refers to an entry by index;
// moving an object only rewrites offset, so references never change.
type entry struct {
	class  *Class
	native tracer
	bytes  []byte

	offset uint32 // first slot in the generation's arena
	size   uint32 // pointer slots, named + indexed
	named  uint32 // named instance variables
	extra  uint32 // words charged for header, bytes and native payload

	serial uint16
	format Format
	gen    generation
	age    uint8
	flags  uint8
}

func (e *entry) live() bool        { return e.gen != genFree }
func (e *entry) marked() bool      { return e.flags&flagMarked != 0 }
func (e *entry) remembered() bool  { return e.flags&flagRemembered != 0 }
func (e *entry) immutable() bool   { return e.flags&flagImmutable != 0 }
func (e *entry) setFlag(f uint8)   { e.flags |= f }
func (e *entry) clearFlag(f uint8) { e.flags &^= f }

// indexedSize is the number of indexed elements (slots or bytes).
func (e *entry) indexedSize() int {
	if e.format == FormatBytes {
		return len(e.bytes)
	}
	return int(e.size - e.named)
}

// traced reports whether slot i keeps its referent alive.
func (e *entry) traced(i uint32) bool {
	return e.format != FormatWeak || i < e.named
}

func bytesWords(n int) uint32 {
	return uint32((n + 7) / 8)
}
