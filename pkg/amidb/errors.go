package amidb

import "github.com/amidb/amidb/pkg/dberr"

// Code and Error re-export pkg/dberr's taxonomy under the facade package so
// an embedder importing only amidb need not also import pkg/dberr directly
// (spec §7: "a Go Error type carrying code + location + message").
type Code = dberr.Code

type Error = dberr.Error

const (
	OK           = dberr.OK
	GenericError = dberr.GenericError
	Busy         = dberr.Busy
	NotFound     = dberr.NotFound
	Exists       = dberr.Exists
	Corrupt      = dberr.Corrupt
	NoMem        = dberr.NoMem
	IOErr        = dberr.IOErr
	Full         = dberr.Full
	Syntax       = dberr.Syntax
	Done         = dberr.Done
	Row          = dberr.Row
	Overflow     = dberr.Overflow
)

// Sentinel values for errors.Is checks against a bare code.
var (
	ErrNotFound = dberr.ErrNotFound
	ErrExists   = dberr.ErrExists
	ErrBusy     = dberr.ErrBusy
	ErrCorrupt  = dberr.ErrCorrupt
	ErrFull     = dberr.ErrFull
	ErrIOErr    = dberr.ErrIOErr
	ErrNoMem    = dberr.ErrNoMem
)
