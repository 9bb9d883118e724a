package config

import (
	"time"

	"github.com/spf13/viper"
)

// Settings holds all configuration values
type Settings struct {
	// Logging configuration
	Logging struct {
		LogFile string
		Level   string
	}

	// Buffer configuration
	Buffer struct {
		// Backend selects the stream buffer implementation: "memory" or "redis"
		Backend string
		Redis   struct {
			Host      string
			Port      int
			Password  string
			DB        int
			KeyPrefix string
			IdleTTL   time.Duration
		}
	}

	// Broker configuration for cross-instance broadcast
	Broker struct {
		Enabled       bool
		URL           string
		Token         string
		SubjectPrefix string
	}

	// Ollama generation backend configuration
	Ollama struct {
		Host    string
		Model   string
		Timeout time.Duration
	}

	// History persistence configuration
	History struct {
		Path string
	}

	// ConfigFile stores the path to the config file used
	ConfigFile string
}

// Global settings instance
var Global *Settings

// Init initializes the configuration system
func Init(cfgFile string) error {
	Global = &Settings{}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		Global.ConfigFile = cfgFile
	} else {
		viper.AddConfigPath("./.parley")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
		Global.ConfigFile = ".parley/settings.yaml"
	}

	setDefaults()

	// Enable environment variable support
	viper.AutomaticEnv()
	viper.BindEnv("ollama.host", "OLLAMA_HOST")
	viper.BindEnv("ollama.model", "OLLAMA_MODEL")
	viper.BindEnv("buffer.redis.host", "REDIS_HOST")
	viper.BindEnv("broker.url", "NATS_URL")
	viper.BindEnv("broker.token", "NATS_TOKEN")

	// Read config file if it exists; a missing file is not an error
	_ = viper.ReadInConfig()

	return Load()
}

// setDefaults sets all default configuration values
func setDefaults() {
	// Logging defaults
	viper.SetDefault("logging.log_file", "parley.log")
	viper.SetDefault("logging.level", "info")

	// Buffer defaults
	viper.SetDefault("buffer.backend", "memory")
	viper.SetDefault("buffer.redis.host", "localhost")
	viper.SetDefault("buffer.redis.port", 6379)
	viper.SetDefault("buffer.redis.db", 0)
	viper.SetDefault("buffer.redis.key_prefix", "parley:")
	viper.SetDefault("buffer.redis.idle_ttl", "0s")

	// Broker defaults
	viper.SetDefault("broker.enabled", false)
	viper.SetDefault("broker.url", "nats://localhost:4222")
	viper.SetDefault("broker.subject_prefix", "parley.conv")

	// Ollama defaults
	viper.SetDefault("ollama.host", "http://localhost:11434")
	viper.SetDefault("ollama.model", "qwen3:latest")
	viper.SetDefault("ollama.timeout", "90s")

	// History defaults
	viper.SetDefault("history.path", "./.parley/history")
}

// Load loads configuration from viper into the Settings struct
func Load() error {
	Global.Logging.LogFile = viper.GetString("logging.log_file")
	Global.Logging.Level = viper.GetString("logging.level")

	Global.Buffer.Backend = viper.GetString("buffer.backend")
	Global.Buffer.Redis.Host = viper.GetString("buffer.redis.host")
	Global.Buffer.Redis.Port = viper.GetInt("buffer.redis.port")
	Global.Buffer.Redis.Password = viper.GetString("buffer.redis.password")
	Global.Buffer.Redis.DB = viper.GetInt("buffer.redis.db")
	Global.Buffer.Redis.KeyPrefix = viper.GetString("buffer.redis.key_prefix")
	Global.Buffer.Redis.IdleTTL = viper.GetDuration("buffer.redis.idle_ttl")

	Global.Broker.Enabled = viper.GetBool("broker.enabled")
	Global.Broker.URL = viper.GetString("broker.url")
	Global.Broker.Token = viper.GetString("broker.token")
	Global.Broker.SubjectPrefix = viper.GetString("broker.subject_prefix")

	Global.Ollama.Host = viper.GetString("ollama.host")
	Global.Ollama.Model = viper.GetString("ollama.model")
	Global.Ollama.Timeout = viper.GetDuration("ollama.timeout")

	Global.History.Path = viper.GetString("history.path")

	return nil
}

// Get returns the global settings, initializing defaults first if
// Init was never called (tests and library consumers hit this path).
func Get() *Settings {
	if Global == nil {
		setDefaults()
		Global = &Settings{}
		_ = Load()
	}
	return Global
}
