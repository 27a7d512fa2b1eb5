// Package envutil provides cached environment-variable lookups with typed
// fallbacks, ported from the teacher's pkg/utils/env.go.
package envutil

import (
	"os"
	"strconv"
	"sync"
)

// envCache stores previously fetched non-empty environment variable values
// so repeat lookups avoid the relatively expensive syscall interaction.
var envCache sync.Map // map[string]string

func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		return v.(string), true
	}
	if v := os.Getenv(key); v != "" {
		envCache.Store(key, v)
		return v, true
	}
	return "", false
}

// ClearCache removes any cached value for key. Primarily for tests where
// environment variables change between calls.
func ClearCache(key string) {
	envCache.Delete(key)
}

// OrDefault returns the value of the environment variable identified by
// key, or fallback if the variable is unset or empty.
func OrDefault(key, fallback string) string {
	if v, ok := getEnv(key); ok {
		return v
	}
	return fallback
}

// OrDefaultInt returns the integer value of the environment variable
// identified by key, or fallback if unset, empty, or unparseable.
func OrDefaultInt(key string, fallback int) int {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// OrDefaultUint64 returns the uint64 value of the environment variable
// identified by key, or fallback if unset, empty, or unparseable.
func OrDefaultUint64(key string, fallback uint64) uint64 {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// OrDefaultBool returns the boolean value of the environment variable
// identified by key, or fallback if unset, empty, or unparseable.
func OrDefaultBool(key string, fallback bool) bool {
	if v, ok := getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
