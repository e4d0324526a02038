// Copyright 2012 Lawrence Kesteloot

package main

// The keyboard is a matrix of 8 rows of 8 keys mapped at 3800. Each address
// bit selects a row and reading ORs the selected rows together. Key events
// come from the UI goroutine while the CPU reads, so rows are atomic.
// http://www.trs-80.com/trs80-zaps-internals.htm#keyboard13

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const (
	keyboardBegin = 0x3800
	keyboardEnd   = keyboardBegin + 256
	keyboardRows  = 8

	// Highest key number: 8 rows of 8.
	keyCount = keyboardRows * 8
)

type keyboard [keyboardRows]atomic.Uint32

func (kb *keyboard) clear() {
	for i := range kb {
		kb[i].Store(0)
	}
}

func (kb *keyboard) read(addr uint16) byte {
	addr -= keyboardBegin

	var b byte
	for i := range kb {
		if addr&(1<<uint(i)) != 0 {
			b |= byte(kb[i].Load())
		}
	}

	return b
}

// Press or release a key. Keys are numbered by row and column:
// 0 = @, 1 = A, 8 = H, 48 = enter, 56 = shift.
func (kb *keyboard) keyEvent(key int, isPressed bool) {
	if key < 0 || key >= keyCount {
		log.Warnf("Ignoring event for unknown key %d", key)
		return
	}

	row := &kb[key/8]
	bit := uint32(1) << uint(key%8)
	for {
		old := row.Load()
		updated := old &^ bit
		if isPressed {
			updated = old | bit
		}
		if row.CompareAndSwap(old, updated) {
			break
		}
	}
	log.Debugf("Key %d is %v", key, isPressed)
}
