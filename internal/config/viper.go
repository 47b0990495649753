package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"cloudbridge/internal/logging"
)

// EnvPrefix is prepended to environment variable overrides, e.g. CLOUDBRIDGE_CACHE_TTL
const EnvPrefix = "CLOUDBRIDGE"

// flagNames maps config keys to the command line flags that can override them
var flagNames = map[string]string{
	"app.max_workers":      "max-workers",
	"app.log_format":       "log-format",
	"app.log_level":        "log-level",
	"cache.backend":        "cache-backend",
	"cache.dir":            "cache-dir",
	"cache.ttl":            "cache-ttl",
	"fetch.task_timeout":   "task-timeout",
	"fetch.batch_timeout":  "batch-timeout",
	"refresh.interval":     "refresh-interval",
	"serve.listen_address": "listen-address",
	"export.aws_profile":   "aws-profile",
}

// parameterSource tracks where each parameter value came from
type parameterSource struct {
	Key    string
	Value  interface{}
	Source string
}

// getParameterSource determines where a parameter value came from (flag, env var, config file or default)
func getParameterSource(key string, cmd *cobra.Command) parameterSource {
	value := viper.Get(key)
	envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))

	flagName := flagNames[key]
	if flagName == "" {
		flagName = strings.ReplaceAll(key, ".", "-")
	}

	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			return parameterSource{key, value, "command line flag"}
		}
		for current := cmd; current != nil; current = current.Parent() {
			if f := current.PersistentFlags().Lookup(flagName); f != nil && f.Changed {
				return parameterSource{key, value, "command line flag"}
			}
		}
	}

	if _, exists := os.LookupEnv(envKey); exists {
		return parameterSource{key, value, "environment variable"}
	}
	if viper.InConfig(key) {
		return parameterSource{key, value, "config file"}
	}
	return parameterSource{key, value, "default value"}
}

// LogConfigurationSources logs the source of each configuration parameter at DEBUG level
func LogConfigurationSources(cmd *cobra.Command) {
	logging.Debug("Configuration parameter sources:")
	for _, key := range sortedKeys(flagNames) {
		source := getParameterSource(key, cmd)
		logging.Debug(fmt.Sprintf("  %s = %v (from %s)", source.Key, source.Value, source.Source))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BindFlags binds every known flag present on cmd to its config key so that
// flags override environment variables and the config file
func BindFlags(cmd *cobra.Command) error {
	for _, key := range sortedKeys(flagNames) {
		f := cmd.Flags().Lookup(flagNames[key])
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
		}
	}
	return nil
}

// SetDefaults registers the default value of every key
func SetDefaults() {
	d := defaultGlobalConfig()
	viper.SetDefault("app.max_workers", 8)
	viper.SetDefault("app.log_format", d.LogFormat)
	viper.SetDefault("app.log_level", d.LogLevel)
	viper.SetDefault("cache.backend", d.CacheBackend)
	viper.SetDefault("cache.dir", d.CacheDir)
	viper.SetDefault("cache.ttl", d.CacheTTL)
	viper.SetDefault("fetch.task_timeout", d.TaskTimeout)
	viper.SetDefault("fetch.batch_timeout", d.BatchTimeout)
	viper.SetDefault("refresh.interval", d.RefreshInterval)
	viper.SetDefault("serve.listen_address", d.ListenAddress)
	viper.SetDefault("export.aws_profile", d.AWSProfile)
}

// InitConfig sets up viper: defaults, environment overrides and ./config.yaml when present
func InitConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		logging.Debug("No config file found, using defaults and environment variables")
	} else {
		logging.Debug("Loaded config file", map[string]interface{}{
			"path": viper.ConfigFileUsed(),
		})
	}
	return nil
}

// SetConfigFile reads configuration from an explicit path
func SetConfigFile(configFile string) error {
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Load copies the resolved viper values into Config
func Load() error {
	cfg := &GlobalConfig{
		MaxWorkers:      viper.GetInt("app.max_workers"),
		LogFormat:       viper.GetString("app.log_format"),
		LogLevel:        viper.GetString("app.log_level"),
		CacheBackend:    strings.ToLower(viper.GetString("cache.backend")),
		CacheDir:        viper.GetString("cache.dir"),
		CacheTTL:        viper.GetDuration("cache.ttl"),
		TaskTimeout:     viper.GetDuration("fetch.task_timeout"),
		BatchTimeout:    viper.GetDuration("fetch.batch_timeout"),
		RefreshInterval: viper.GetDuration("refresh.interval"),
		ListenAddress:   viper.GetString("serve.listen_address"),
		AWSProfile:      viper.GetString("export.aws_profile"),
	}

	if cfg.MaxWorkers <= 0 {
		return fmt.Errorf("app.max_workers must be greater than 0, got %d", cfg.MaxWorkers)
	}
	switch cfg.CacheBackend {
	case "file", "memory":
	default:
		return fmt.Errorf("cache.backend must be file or memory, got %q", cfg.CacheBackend)
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", cfg.CacheTTL)
	}
	if cfg.TaskTimeout <= 0 || cfg.BatchTimeout <= 0 {
		return fmt.Errorf("fetch timeouts must be positive")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	Config = cfg
	return nil
}

// fileConfig mirrors config.yaml for rendering the default file
type fileConfig struct {
	App struct {
		MaxWorkers int    `yaml:"max_workers"`
		LogFormat  string `yaml:"log_format"`
		LogLevel   string `yaml:"log_level"`
	} `yaml:"app"`
	Cache struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
		TTL     string `yaml:"ttl"`
	} `yaml:"cache"`
	Fetch struct {
		TaskTimeout  string `yaml:"task_timeout"`
		BatchTimeout string `yaml:"batch_timeout"`
	} `yaml:"fetch"`
	Refresh struct {
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`
	Serve struct {
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"serve"`
	Export struct {
		AWSProfile string `yaml:"aws_profile"`
	} `yaml:"export"`
	Accounts []AccountConfig `yaml:"accounts"`
}

const defaultConfigHeader = `# cloudbridge configuration
#
# Every key can be overridden with an environment variable prefixed with
# CLOUDBRIDGE_, e.g. CLOUDBRIDGE_CACHE_TTL=1h.
# Credential fields accept $VAR or ${VAR} references to environment variables.
# amount_policy is keep (pass credits through) or clamp (negative -> 0).

`

// DefaultConfigYAML renders a starter config.yaml with example accounts
func DefaultConfigYAML() ([]byte, error) {
	var fc fileConfig
	d := defaultGlobalConfig()
	fc.App.MaxWorkers = 8
	fc.App.LogFormat = d.LogFormat
	fc.App.LogLevel = d.LogLevel
	fc.Cache.Backend = d.CacheBackend
	fc.Cache.Dir = d.CacheDir
	fc.Cache.TTL = d.CacheTTL.String()
	fc.Fetch.TaskTimeout = d.TaskTimeout.String()
	fc.Fetch.BatchTimeout = d.BatchTimeout.String()
	fc.Refresh.Interval = d.RefreshInterval.String()
	fc.Serve.ListenAddress = d.ListenAddress
	fc.Export.AWSProfile = d.AWSProfile

	disabled := false
	fc.Accounts = []AccountConfig{
		{
			ID:         "123456789012",
			Name:       "aws-production",
			Provider:   "aws",
			AWSProfile: "default",
		},
		{
			ID:              "aliyun-main",
			Name:            "aliyun-main",
			Provider:        "aliyun",
			AccessKeyID:     "${ALIYUN_ACCESS_KEY_ID}",
			SecretAccessKey: "${ALIYUN_ACCESS_KEY_SECRET}",
			Enabled:         &disabled,
		},
		{
			ID:              "deepseek",
			Name:            "deepseek-api",
			Provider:        "deepseek",
			SecretAccessKey: "${DEEPSEEK_API_KEY}",
			AmountPolicy:    "clamp",
			Enabled:         &disabled,
		},
	}

	var buf bytes.Buffer
	buf.WriteString(defaultConfigHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fc); err != nil {
		return nil, fmt.Errorf("failed to render default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render default config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefaultConfig writes the starter config to path, refusing to overwrite unless force is set
func WriteDefaultConfig(path string, force bool) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if _, err := os.Stat(absPath); err == nil && !force {
		return "", fmt.Errorf("file %s already exists. Use --force to overwrite", absPath)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", filepath.Dir(absPath), err)
	}

	data, err := DefaultConfigYAML()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(absPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return absPath, nil
}
