package config

import (
	"strconv"
	"time"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "MEA_"

// Lookup matches os.LookupEnv so tests can supply their own environment.
type Lookup func(string) (string, bool)

func (l Lookup) get(key string) (string, bool) {
	if l == nil {
		return "", false
	}
	return l(EnvPrefix + key)
}

// String returns MEA_<key> if set, otherwise def.
func (l Lookup) String(key, def string) string {
	if val, ok := l.get(key); ok {
		return val
	}
	return def
}

// Int returns MEA_<key> parsed as an int, otherwise def.
func (l Lookup) Int(key string, def int) int {
	if val, ok := l.get(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// Float returns MEA_<key> parsed as a float, otherwise def.
func (l Lookup) Float(key string, def float64) float64 {
	if val, ok := l.get(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

// Bool returns MEA_<key> parsed as a bool, otherwise def.
func (l Lookup) Bool(key string, def bool) bool {
	if val, ok := l.get(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

// Duration returns MEA_<key> parsed as a duration ("250ms"), otherwise def.
func (l Lookup) Duration(key string, def time.Duration) time.Duration {
	if val, ok := l.get(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
