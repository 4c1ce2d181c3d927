// Package config reads runtime settings from BORN_* environment variables.
//
// Every setting is an accessor that re-reads the environment on each call,
// so tests can use t.Setenv without resetting package state.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Bool returns an accessor that parses key as a boolean.
// A set but unparsable value counts as true.
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// String returns an accessor for key.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// Uint returns an accessor that parses key as an unsigned integer,
// falling back to defaultValue when unset, invalid or zero.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil || n == 0 {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

var (
	// NumThreads caps the number of goroutines a single attention call fans out to.
	NumThreads = Uint("BORN_NUM_THREADS", uint(runtime.NumCPU()))
	// MinChunk is the minimum number of output rows handed to one goroutine.
	MinChunk = Uint("BORN_MIN_CHUNK", 1)
	// QueryBlock is the number of query rows per block in the matmul kernels.
	QueryBlock = Uint("BORN_QUERY_BLOCK", 4)
	// DisableBLAS forces the reference kernel where the matmul kernel would run.
	DisableBLAS = Bool("BORN_DISABLE_BLAS")
)

// KvCacheType returns the requested KV cache precision ("f32", "f16" or "u8").
func KvCacheType() string {
	s := strings.ToLower(Var("BORN_KV_CACHE_TYPE"))
	switch s {
	case "", "f32":
		return "f32"
	case "f16", "u8":
		return s
	default:
		slog.Warn("invalid environment variable, using default", "key", "BORN_KV_CACHE_TYPE", "value", s, "default", "f32")
		return "f32"
	}
}

// LogLevel returns the log level selected by BORN_DEBUG.
// A true value enables debug; a positive integer n selects slog.Level(-4*n).
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("BORN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// EnvVar describes one setting.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every setting with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BORN_DEBUG":         {"BORN_DEBUG", LogLevel(), "Show additional debug information (e.g. BORN_DEBUG=1)"},
		"BORN_NUM_THREADS":   {"BORN_NUM_THREADS", NumThreads(), "Maximum goroutines per attention call (default: number of CPUs)"},
		"BORN_MIN_CHUNK":     {"BORN_MIN_CHUNK", MinChunk(), "Minimum output rows per goroutine (default: 1)"},
		"BORN_QUERY_BLOCK":   {"BORN_QUERY_BLOCK", QueryBlock(), "Query rows per block in matmul kernels (default: 4)"},
		"BORN_DISABLE_BLAS":  {"BORN_DISABLE_BLAS", DisableBLAS(), "Use the reference kernel instead of the BLAS matmul kernel"},
		"BORN_KV_CACHE_TYPE": {"BORN_KV_CACHE_TYPE", KvCacheType(), "Precision of the K/V cache: f32, f16 or u8 (default: f32)"},
	}
}

// Values returns every setting formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
