// Copyright 2012 Lawrence Kesteloot

package main

// Screen constants and utilities.

import (
	"strings"
)

const (
	screenRows    = 16
	screenColumns = 64
	screenBegin   = 0x3C00
	screenEnd     = screenBegin + screenRows*screenColumns
)

// The screen as text, one string per row with trailing blanks trimmed.
// Graphics and other non-ASCII characters show as periods.
func (vm *vm) screenText() []string {
	lines := make([]string, screenRows)
	for row := range lines {
		var b strings.Builder
		start := screenBegin + row*screenColumns
		for _, ch := range vm.memory[start : start+screenColumns] {
			switch {
			case ch >= 0x20 && ch < 0x7F:
				b.WriteByte(ch)
			case ch < 0x20:
				// Shown as uppercase.
				b.WriteByte(ch + 0x40)
			default:
				b.WriteByte('.')
			}
		}
		lines[row] = strings.TrimRight(b.String(), " ")
	}
	return lines
}
