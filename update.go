// Copyright 2012 Lawrence Kesteloot

package main

// Information about changes to the CPU or computer, sent to the UI.
type vmUpdate struct {
	Cmd  string
	Msg  string `json:",omitempty"`
	Addr int
	Data int
}

// Command to the VM from the UI, such as keyboard presses or boot.
type vmCommand struct {
	Cmd  string
	Addr int
	Data string
}
