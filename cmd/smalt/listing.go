package main

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/fatih/color"
)

// instructionLine matches "0012  SEND_UNARY 3 (#foo)".
var instructionLine = regexp.MustCompile(`^(\d{4})(\s+)([A-Z][A-Z0-9_]*)(.*)$`)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	addressColor = color.New(color.Faint)
	opcodeColor  = color.New(color.FgYellow)
)

// writeListing prints a method disassembly with headers, addresses and
// opcodes coloured.
func writeListing(w io.Writer, listing string) {
	for _, line := range strings.Split(strings.TrimRight(listing, "\n"), "\n") {
		m := instructionLine.FindStringSubmatch(line)
		switch {
		case m != nil:
			addressColor.Fprint(w, m[1])
			fmt.Fprint(w, m[2])
			opcodeColor.Fprint(w, m[3])
			fmt.Fprintln(w, m[4])
		case line == "":
			fmt.Fprintln(w)
		default:
			headerColor.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w)
}
