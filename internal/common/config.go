package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Cache    CacheConfig
	Vision   VisionConfig
	Arbiter  ArbiterConfig
	Align    AlignConfig
	Pipeline PipelineConfig
	FinBIF   FinBIFConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// CacheConfig holds the on-disk result cache configuration
type CacheConfig struct {
	RootDir string
}

// VisionConfig holds vision-model transcription configuration
type VisionConfig struct {
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	RunVersion  string
}

// ArbiterConfig holds consolidation arbitration configuration
type ArbiterConfig struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// AlignConfig holds consensus-building thresholds
type AlignConfig struct {
	ConflictThreshold float64
}

// PipelineConfig holds orchestration limits
type PipelineConfig struct {
	Workers         int
	QueueSize       int
	SpecimenTimeout time.Duration
	ImageWait       time.Duration
}

// FinBIFConfig holds the specimen warehouse client configuration
type FinBIFConfig struct {
	BaseURL      string
	AccessToken  string
	CollectionID string
	PageSize     int
	FetchDelay   time.Duration
	UserAgent    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Cache: CacheConfig{
			RootDir: getEnv("CACHE_DIR", "./artifacts"),
		},
		Vision: VisionConfig{
			Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			Temperature: getEnvAsFloat32("GEMINI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("GEMINI_TIMEOUT", 60*time.Second),
			RunVersion:  getEnv("RUN_VERSION", "1"),
		},
		Arbiter: ArbiterConfig{
			Model:       getEnv("ARBITER_MODEL", getEnv("GEMINI_MODEL", "gemini-2.5-flash")),
			Temperature: getEnvAsFloat32("ARBITER_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("ARBITER_TIMEOUT", 60*time.Second),
		},
		Align: AlignConfig{
			ConflictThreshold: getEnvAsFloat64("ALIGN_CONFLICT_THRESHOLD", 0.2),
		},
		Pipeline: PipelineConfig{
			Workers:         getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:       getEnvAsInt("PIPELINE_QUEUE_SIZE", 64),
			SpecimenTimeout: getEnvAsDuration("PIPELINE_SPECIMEN_TIMEOUT", 10*time.Minute),
			ImageWait:       getEnvAsDuration("PIPELINE_IMAGE_WAIT", 2*time.Minute),
		},
		FinBIF: FinBIFConfig{
			BaseURL:      getEnv("FINBIF_BASE_URL", "https://api.laji.fi/v0"),
			AccessToken:  getEnv("FINBIF_ACCESS_TOKEN", ""),
			CollectionID: getEnv("FINBIF_COLLECTION_ID", "HR.168"),
			PageSize:     getEnvAsInt("FINBIF_PAGE_SIZE", 100),
			FetchDelay:   getEnvAsDuration("FINBIF_FETCH_DELAY", 500*time.Millisecond),
			UserAgent:    getEnv("FINBIF_USER_AGENT", defaultUserAgent),
		},
	}
}

// Image hosts behind the warehouse reject non-browser agents.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration for the daemon path
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Vision.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Cache.RootDir == "" {
		return NewAppError("CONFIG_ERROR", "CACHE_DIR is required", ErrInvalidInput)
	}
	if c.Align.ConflictThreshold < 0 || c.Align.ConflictThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "ALIGN_CONFLICT_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	if c.Pipeline.Workers < 1 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS must be positive", ErrInvalidInput)
	}
	return nil
}
