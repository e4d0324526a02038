// Copyright 2013 Lawrence Kesteloot

package main

// Sort strings taking into account embedded numbers, so that disk lists come
// out as "LDOS2" before "LDOS10".

import (
	"sort"
	"strings"
)

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Return the run of digits starting at i and the position after it.
func digitRun(s string, i int) (string, int) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[start:i], i
}

// Compare two runs of digits by value without converting them, so any
// length works. Leading zeros are ignored.
func compareDigitRuns(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Return -1, 0, or 1 if a is less than, equal to, or greater than b, taking into
// account embedded numbers.
func compareStringsNumerically(a, b string) int {
	var i, j int

	// Walk through both strings at the same time.
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			// Only compare numerically if both are numbers.
			var runA, runB string
			runA, i = digitRun(a, i)
			runB, j = digitRun(b, j)
			if c := compareDigitRuns(runA, runB); c != 0 {
				return c
			}
			continue
		}

		// Compare ASCII.
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i++
		j++
	}

	// One or the other ended. Whichever one ended first is "less".
	switch {
	case i == len(a) && j == len(b):
		return 0
	case i == len(a):
		return -1
	}
	return 1
}

// Sort strings in place, putting numbers in their proper order.
func sortNumerically(s []string) {
	sort.SliceStable(s, func(i, j int) bool {
		return compareStringsNumerically(s[i], s[j]) < 0
	})
}
