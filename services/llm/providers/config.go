package providers

import "time"

// Config holds common configuration for vendor adapters
type Config struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for a single attempt
	Timeout time.Duration

	// MaxRetries is the total number of attempts per call
	MaxRetries int

	// RetryDelay is the base delay; attempt n waits RetryDelay * 2^(n-1)
	RetryDelay time.Duration

	// Headers adds extra headers to every request
	Headers map[string]string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		Headers:    make(map[string]string),
	}
}
