package vm

import (
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// SymbolTable: interned symbols and selectors
// ---------------------------------------------------------------------------

// SymbolTable interns symbol strings to dense ids. Selectors are symbols, so
// a selector id is also a valid Symbol value and method dictionaries key on
// the same id a program sees when it writes #at:put:.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   []string
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]uint32),
		byID:   make([]string, 0, 512),
	}
}

// Intern returns the id for name, adding it if needed.
func (st *SymbolTable) Intern(name string) uint32 {
	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.byName[name]; ok {
		return id
	}
	id := uint32(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Lookup returns the id for name without interning it.
func (st *SymbolTable) Lookup(name string) (uint32, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byName[name]
	return id, ok
}

// Name returns the string for id, or "" if id is unknown.
func (st *SymbolTable) Name(id uint32) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// Value returns the Symbol value for name.
func (st *SymbolTable) Value(name string) Value {
	return FromSymbolID(st.Intern(name))
}

// ---------------------------------------------------------------------------
// Selector shape
// ---------------------------------------------------------------------------

// SelectorKind classifies a selector by its syntactic form.
type SelectorKind uint8

const (
	UnarySelector SelectorKind = iota
	BinarySelector
	KeywordSelector
)

func (k SelectorKind) String() string {
	switch k {
	case UnarySelector:
		return "unary"
	case BinarySelector:
		return "binary"
	default:
		return "keyword"
	}
}

const binaryChars = "+-*/\\<>=~@%|&?,"

// KindOf classifies a selector name.
func KindOf(selector string) SelectorKind {
	if selector == "" {
		return UnarySelector
	}
	if strings.IndexByte(binaryChars, selector[0]) >= 0 {
		return BinarySelector
	}
	if strings.HasSuffix(selector, ":") {
		return KeywordSelector
	}
	return UnarySelector
}

// SelectorArity returns the number of arguments a selector takes.
func SelectorArity(selector string) int {
	switch KindOf(selector) {
	case BinarySelector:
		return 1
	case KeywordSelector:
		return strings.Count(selector, ":")
	default:
		return 0
	}
}
