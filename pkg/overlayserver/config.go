package overlayserver

import "time"

// Config holds settings for the read-only inspector server. Unlike a
// real write-path server, there is no DataDir or buffer pool here -
// the server observes a single in-process Changeset, it never opens
// storage of its own.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxRequestSize int64
	EnableCORS     bool
	AllowedOrigins []string
	EnableLogging  bool
	EnableGraphQL  bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8089,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		EnableLogging:  true,
		EnableGraphQL:  true,
	}
}
