package env

import "os"

// Get returns the value of the environment variable, falling back when unset
// or empty.
func Get(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
