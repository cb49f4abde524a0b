package config

import (
	"os"
	"strings"
)

// PathEnv names the variable holding the config file path. It is read
// before the file, so it is not part of the SKIRMISH_ section mapping.
const PathEnv = "SKIRMISH_CONFIG"

// GetEnv returns the value of the environment variable named by the key,
// or fallback if the variable is unset or blank.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// DefaultPath returns the config file used when no --config flag is given.
func DefaultPath() string {
	return GetEnv(PathEnv, "")
}
