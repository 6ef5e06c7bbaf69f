// Package config loads the broker's process configuration from environment
// variables, the same split the teacher uses between cobra flags and process
// env: infra knobs (bind address, data directory, secrets) come from the
// environment, not flags, so the same container image runs unmodified across
// environments.
package config

import (
	"os"
	"strings"
)

// Config is the broker's full runtime configuration.
type Config struct {
	// JWTSecret signs agent bearer tokens issued by /agent/auth.
	JWTSecret string
	// DataDir is the root directory for the three bbolt stores
	// (agents, tasks, client_api_keys).
	DataDir string
	// AgentAPIKeys is the allowlist checked against apiKey on
	// /agent/register.
	AgentAPIKeys []string
	// ClientAPIKeys seeds the predefined, universal-capability client keys
	// on startup via apikeys.Registry.InitializeFromList.
	ClientAPIKeys []string
	// Host and Port are the HTTP listen address.
	Host string
	Port string
	// ManagementToken is the shared static bearer token for /management/*.
	ManagementToken string
}

// Load reads configuration from the environment, applying the documented
// defaults for anything unset.
func Load() Config {
	return Config{
		JWTSecret:       getEnv("JWT_SECRET", ""),
		DataDir:         getEnv("DATABASE_ROOT_PATH", "./data"),
		AgentAPIKeys:    splitColon(os.Getenv("AGENT_API_KEYS")),
		ClientAPIKeys:   splitColon(os.Getenv("CLIENT_API_KEYS")),
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "3069"),
		ManagementToken: getEnv("MANAGEMENT_TOKEN", ""),
	}
}

// Addr returns the combined host:port listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitColon(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
