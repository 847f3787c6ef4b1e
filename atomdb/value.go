package atomdb

import (
	"time"
)

// Value represents any value that can be stored as an atom attribute.
// We use interface{} with a closed set of direct Go types rather than a
// wrapper struct per kind.
type Value interface{}

// Valid value types:
// - string
// - int64 (and int, normalized to int64 on encode)
// - float64
// - bool
// - time.Time
// - time.Duration
// - []byte (persisted out of line as a blob atom)
// - map[string]Value (nested container)
// - Atom (reference to another atom)
// - nil

// Helper functions for creating typed values
func String(s string) Value          { return s }
func Int(i int64) Value              { return i }
func Float(f float64) Value          { return f }
func Bool(b bool) Value              { return b }
func Time(t time.Time) Value         { return t }
func Duration(d time.Duration) Value { return d }
func Bytes(b []byte) Value           { return b }
func Null() Value                    { return nil }
