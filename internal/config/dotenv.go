package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Env returns APP_ENV, defaulting to local
func Env() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	return "local"
}

// Path returns the config file for the current APP_ENV
func Path() string {
	return fmt.Sprintf("configs/config.%s.yaml", Env())
}

// LoadDotEnv loads .env files with priority: .env.<APP_ENV>.local > .env.local > .env
// godotenv.Load does NOT overwrite already-set env vars,
// so OS env vars always win.
// Returns list of files actually loaded.
func LoadDotEnv() []string {
	candidates := []string{".env.local", ".env"}
	if env := os.Getenv("APP_ENV"); env != "" {
		candidates = append([]string{".env." + env + ".local"}, candidates...)
	}
	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}
