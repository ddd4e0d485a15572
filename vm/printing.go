package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// printDepth bounds nested collections so self-containing arrays print.
const printDepth = 6

// printer renders values. With send set, array elements whose class
// overrides printString with a compiled method are printed by sending it.
type printer struct {
	vm   *VM
	sb   strings.Builder
	send bool
	err  error
}

// printString renders v without sending any message. It backs error
// messages that show a value.
func (vm *VM) printString(v Value) string {
	p := printer{vm: vm}
	p.print(v, 0)
	return p.sb.String()
}

// printStringSending backs the kernel printString. Sends made for elements
// may run arbitrary code, so v is rooted for the duration.
func (vm *VM) printStringSending(v Value) (string, error) {
	mark := vm.heap.pushRoots(v)
	defer vm.heap.popRoots(mark)
	p := printer{vm: vm, send: true}
	p.print(v, 0)
	if p.err != nil {
		return "", p.err
	}
	return p.sb.String(), nil
}

// displayString is printString without quotes for Strings and Symbols.
func (vm *VM) displayString(v Value) string {
	if s, ok := vm.stringValue(v); ok {
		return s
	}
	return vm.printString(v)
}

func (p *printer) print(v Value, depth int) {
	vm, sb := p.vm, &p.sb
	switch {
	case v == Nil:
		sb.WriteString("nil")
		return
	case v == True:
		sb.WriteString("true")
		return
	case v == False:
		sb.WriteString("false")
		return
	case v.IsSmallInt():
		sb.WriteString(strconv.FormatInt(v.SmallInt(), 10))
		return
	case v.IsFloat():
		sb.WriteString(formatFloat(v.Float64()))
		return
	case v.IsCharacter():
		sb.WriteByte('$')
		sb.WriteRune(v.Rune())
		return
	case v.IsSymbol():
		sb.WriteByte('#')
		sb.WriteString(vm.Symbols.Name(v.SymbolID()))
		return
	}

	if !vm.heap.isLive(v) {
		sb.WriteString("<reclaimed object>")
		return
	}
	class := vm.heap.ClassOf(v)
	switch {
	case vm.isLargeInt(v):
		n, _ := vm.bigOf(v)
		sb.WriteString(n.String())
	case class.IsSubclassOf(vm.StringClass):
		sb.WriteByte('\'')
		sb.WriteString(strings.ReplaceAll(string(vm.heap.Bytes(v)), "'", "''"))
		sb.WriteByte('\'')
	case vm.heap.FormatOf(v) == FormatBehavior:
		sb.WriteString(vm.classFromObject(v).Name)
	case vm.heap.FormatOf(v) == FormatContext:
		sb.WriteString(vm.contextOf(v).describe())
	case class.IsSubclassOf(vm.ArrayClass):
		p.elements(v, "#(", depth)
	case class.IsSubclassOf(vm.ByteArrayClass):
		sb.WriteString("#[")
		for k, b := range vm.heap.Bytes(v) {
			if k > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.Itoa(int(b)))
		}
		sb.WriteByte(']')
	default:
		sb.WriteString(class.article())
		sb.WriteByte(' ')
		sb.WriteString(class.Name)
	}
}

func (p *printer) elements(v Value, open string, depth int) {
	vm, sb := p.vm, &p.sb
	if depth >= printDepth {
		sb.WriteString(open + "...)")
		return
	}
	sb.WriteString(open)
	n := vm.heap.NamedSize(v)
	for k := n; k < vm.heap.Size(v) && p.err == nil; k++ {
		if k > n {
			sb.WriteByte(' ')
		}
		e, _ := vm.heap.Fetch(v, k)
		if p.send && p.overridden(e) {
			p.sent(e, depth+1)
			continue
		}
		p.print(e, depth+1)
	}
	sb.WriteByte(')')
}

// overridden reports whether e's printString is a compiled method rather
// than the kernel primitive.
func (p *printer) overridden(e Value) bool {
	if e.IsObject() && !p.vm.heap.isLive(e) {
		return false
	}
	_, ok := p.vm.classOf(e).lookup(p.vm.Symbols.Intern("printString")).(*CompiledMethod)
	return ok
}

// sent prints e by sending printString. A reply that is not a String is
// rendered by the kernel printer instead.
func (p *printer) sent(e Value, depth int) {
	reply, err := p.vm.send(e, p.vm.Symbols.Intern("printString"), nil)
	if err != nil {
		p.err = err
		return
	}
	if text, ok := p.vm.stringValue(reply); ok {
		p.sb.WriteString(text)
		return
	}
	p.print(e, depth)
}

// formatFloat prints the shortest representation that reads back as f,
// always with a fraction or exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "Float nan"
	case math.IsInf(f, 1):
		return "Float infinity"
	case math.IsInf(f, -1):
		return "Float negativeInfinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
