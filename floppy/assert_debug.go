// Copyright 2012 Lawrence Kesteloot

//go:build fdcdebug

package floppy

// Built with -tags fdcdebug: controller invariant breaches panic.
const debugAsserts = true
