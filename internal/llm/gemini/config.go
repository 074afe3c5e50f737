package gemini

import (
	"os"
	"time"
)

// Config for the Gemini client.
type Config struct {
	APIKey      string        // if empty, falls back to env GEMINI_API_KEY
	Model       string        // e.g., "gemini-2.5-flash"
	Temperature float32       // 0 keeps transcription reproducible
	Timeout     time.Duration // per-call deadline
}

func (c Config) withDefaults() Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}
