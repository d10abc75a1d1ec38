package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field aliases so call sites don't need a second zap import.

// Err wraps an error field.
func Err(err error) zap.Field { return zap.Error(err) }

// String wraps a string field.
func String(key, val string) zap.Field { return zap.String(key, val) }

// Int wraps an int field.
func Int(key string, val int) zap.Field { return zap.Int(key, val) }

// Bool wraps a bool field.
func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

// Duration wraps a duration field.
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }

// Time wraps a time field.
func Time(key string, val time.Time) zap.Field { return zap.Time(key, val) }

// Any wraps an arbitrary value field.
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }
