package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Captioning worker service configuration
	Worker WorkerConfig `yaml:"worker" json:"worker"`

	// Embedding service configuration
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`

	// Scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Event bus configuration
	Events EventsConfig `yaml:"events" json:"events"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"SERVER_ENABLE_CORS" default:"true"`
}

// DatabaseConfig selects and tunes the storage backend
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL          string `yaml:"url" json:"url" env:"DATABASE_URL"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"CAPTIOND_DATA_DIR" default:"./data"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"DATABASE_PATH"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// WorkerConfig points at the external captioning worker service
type WorkerConfig struct {
	BaseURL      string        `yaml:"base_url" json:"base_url" env:"WORKER_URL" default:"http://localhost:8000"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" env:"WORKER_TIMEOUT" default:"30s"`
	DefaultModel string        `yaml:"default_model" json:"default_model" env:"WORKER_DEFAULT_MODEL" default:"Florence-2-base"`
	Models       []string      `yaml:"models" json:"models" env:"WORKER_MODELS" default:"Florence-2-base,Florence-2-large,SmolVLM-256M-Instruct,SmolVLM-500M-Instruct,moondream2,test"`

	// BulkConcurrency caps how many bulk submissions hit the worker at once.
	BulkConcurrency int `yaml:"bulk_concurrency" json:"bulk_concurrency" env:"WORKER_BULK_CONCURRENCY" default:"4"`
}

// EmbeddingConfig points at the embedding service used to vectorize captions
type EmbeddingConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled" env:"EMBEDDING_ENABLED" default:"false"`
	BaseURL      string        `yaml:"base_url" json:"base_url" env:"EMBEDDING_URL" default:"http://localhost:11434"`
	Model        string        `yaml:"model" json:"model" env:"EMBEDDING_MODEL" default:"all-minilm:l6-v2"`
	Dimensions   int           `yaml:"dimensions" json:"dimensions" env:"EMBEDDING_DIMENSIONS" default:"384"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" env:"EMBEDDING_TIMEOUT" default:"30s"`
	ChunkSize    int           `yaml:"chunk_size" json:"chunk_size" default:"60"`
	ChunkOverlap int           `yaml:"chunk_overlap" json:"chunk_overlap" default:"12"`
}

// ScannerConfig holds directory reconciliation and scheduler configuration
type ScannerConfig struct {
	MediaRoot           string        `yaml:"media_root" json:"media_root" env:"MEDIA_ROOT" default:"./data/media"`
	TickInterval        time.Duration `yaml:"tick_interval" json:"tick_interval" env:"SCAN_TICK_INTERVAL" default:"5m"`
	DefaultScanInterval time.Duration `yaml:"default_scan_interval" json:"default_scan_interval" env:"SCAN_DEFAULT_INTERVAL" default:"10m"`
	BreakerThreshold    int           `yaml:"breaker_threshold" json:"breaker_threshold" env:"SCAN_BREAKER_THRESHOLD" default:"3"`
	BreakerTTL          time.Duration `yaml:"breaker_ttl" json:"breaker_ttl" env:"SCAN_BREAKER_TTL" default:"30m"`
	WatcherEnabled      bool          `yaml:"watcher_enabled" json:"watcher_enabled" env:"SCAN_WATCHER_ENABLED" default:"false"`
	WatcherDebounce     time.Duration `yaml:"watcher_debounce" json:"watcher_debounce" env:"SCAN_WATCHER_DEBOUNCE" default:"2s"`
}

// EventsConfig tunes the in-process event bus
type EventsConfig struct {
	BufferSize     int  `yaml:"buffer_size" json:"buffer_size" env:"EVENTS_BUFFER_SIZE" default:"1000"`
	RetainRecent   int  `yaml:"retain_recent" json:"retain_recent" env:"EVENTS_RETAIN_RECENT" default:"100"`
	PersistHistory bool `yaml:"persist_history" json:"persist_history" env:"EVENTS_PERSIST_HISTORY" default:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
}

// ConfigManager loads and serves the application configuration
type ConfigManager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: "./data",
		},
		Worker: WorkerConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      30 * time.Second,
			DefaultModel: "Florence-2-base",
			Models: []string{
				"Florence-2-base",
				"Florence-2-large",
				"SmolVLM-256M-Instruct",
				"SmolVLM-500M-Instruct",
				"moondream2",
				"test",
			},
			BulkConcurrency: 4,
		},
		Embedding: EmbeddingConfig{
			Enabled:      false,
			BaseURL:      "http://localhost:11434",
			Model:        "all-minilm:l6-v2",
			Dimensions:   384,
			Timeout:      30 * time.Second,
			ChunkSize:    60,
			ChunkOverlap: 12,
		},
		Scanner: ScannerConfig{
			MediaRoot:           "./data/media",
			TickInterval:        5 * time.Minute,
			DefaultScanInterval: 10 * time.Minute,
			BreakerThreshold:    3,
			BreakerTTL:          30 * time.Minute,
			WatcherEnabled:      false,
			WatcherDebounce:     2 * time.Second,
		},
		Events: EventsConfig{
			BufferSize:     1000,
			RetainRecent:   100,
			PersistHistory: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.configPath = configPath

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig
	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// Helper methods

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		envValue := ""
		if envTag != "" {
			envValue = os.Getenv(envTag)
		}
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		} else {
			return fmt.Errorf("unsupported slice type: %v", field.Type().Elem().Kind())
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Worker.BaseURL == "" {
		return fmt.Errorf("worker base URL must not be empty")
	}

	if config.Worker.DefaultModel != "" && !contains(config.Worker.Models, config.Worker.DefaultModel) {
		return fmt.Errorf("default model %q is not in the configured model list", config.Worker.DefaultModel)
	}

	if config.Embedding.Enabled && config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", config.Embedding.Dimensions)
	}

	if config.Scanner.TickInterval <= 0 {
		return fmt.Errorf("invalid scan tick interval: %s", config.Scanner.TickInterval)
	}

	if config.Scanner.BreakerThreshold < 1 {
		return fmt.Errorf("invalid breaker threshold: %d", config.Scanner.BreakerThreshold)
	}

	if config.Worker.BulkConcurrency < 1 {
		return fmt.Errorf("invalid bulk concurrency: %d", config.Worker.BulkConcurrency)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "captiond.db")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
