package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// GlobalConfig holds the global configuration for the application
type GlobalConfig struct {
	// MaxWorkers defines the maximum number of concurrent account fetches
	MaxWorkers int

	// LogFormat is the format for logging
	LogFormat string

	// LogLevel is the minimum level that is logged
	LogLevel string

	// CacheBackend selects where cached results live: file or memory
	CacheBackend string

	// CacheDir is the directory of the file cache backend
	CacheDir string

	// CacheTTL is how long fetched results stay fresh
	CacheTTL time.Duration

	// TaskTimeout bounds one provider call
	TaskTimeout time.Duration

	// BatchTimeout bounds a whole multi-account refresh
	BatchTimeout time.Duration

	// RefreshInterval is the period of background refreshes in serve mode
	RefreshInterval time.Duration

	// ListenAddress is where serve mode exposes metrics
	ListenAddress string

	// AWSProfile is the named profile used for S3 exports
	AWSProfile string
}

const (
	DefaultCacheTTL        = 6 * time.Hour
	DefaultTaskTimeout     = 30 * time.Second
	DefaultBatchTimeout    = 60 * time.Second
	DefaultRefreshInterval = 60 * time.Minute
	DefaultListenAddress   = ":9184"
)

// Config is the global configuration instance
var Config = defaultGlobalConfig()

func defaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		MaxWorkers:      runtime.NumCPU() * 4, // tasks are I/O bound
		LogFormat:       "text",
		LogLevel:        "INFO",
		CacheBackend:    "file",
		CacheDir:        DefaultCacheDir(),
		CacheTTL:        DefaultCacheTTL,
		TaskTimeout:     DefaultTaskTimeout,
		BatchTimeout:    DefaultBatchTimeout,
		RefreshInterval: DefaultRefreshInterval,
		ListenAddress:   DefaultListenAddress,
		AWSProfile:      "default",
	}
}

// DefaultCacheDir is the per-user cache location, falling back to the working directory
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "cloudbridge")
	}
	return filepath.Join(".cloudbridge", "cache")
}
