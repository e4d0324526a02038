// Copyright 2012 Lawrence Kesteloot

//go:build !fdcdebug

package floppy

// Controller invariant breaches are logged and the command carries on.
const debugAsserts = false
