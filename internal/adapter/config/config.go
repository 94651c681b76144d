package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

var envBraces = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvBraces expands only ${VAR} and ${VAR:default} patterns
func expandEnvBraces(s string) string {
	return envBraces.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraces.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// Config represents the complete bridge configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Database  DatabaseConfig  `yaml:"database"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// TerminalConfig describes the ZKTeco terminal
type TerminalConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	MachineID int           `yaml:"machine_id"`
	CommKey   int           `yaml:"comm_key"`
	Timezone  string        `yaml:"timezone"`
	Timeout   time.Duration `yaml:"timeout"`
	// Network is used by the raw client only: "udp" or "tcp"
	Network string `yaml:"network"`
}

// BootstrapConfig contains connect retry and test mode settings
type BootstrapConfig struct {
	Attempts       int           `yaml:"attempts"`
	Delay          time.Duration `yaml:"delay"`
	TestDeviceID   int64         `yaml:"test_device_id"`
	TestDeviceName string        `yaml:"test_device_name"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Database    string        `yaml:"database"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	SSLMode     string        `yaml:"ssl_mode"`
	PoolSize    int           `yaml:"pool_size"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// BreakerConfig tunes the circuit breaker around registry calls
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

// MQTTConfig contains event publishing settings
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BrokerURL      string        `yaml:"broker_url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvBraces(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "zkbridge"
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = "development"
	}

	if cfg.Terminal.Port == 0 {
		cfg.Terminal.Port = 4370
	}
	if cfg.Terminal.Timezone == "" {
		cfg.Terminal.Timezone = "America/Lima"
	}
	if cfg.Terminal.Timeout == 0 {
		cfg.Terminal.Timeout = 5 * time.Second
	}
	if cfg.Terminal.Network == "" {
		cfg.Terminal.Network = "udp"
	}

	if cfg.Bootstrap.Attempts == 0 {
		cfg.Bootstrap.Attempts = 3
	}
	if cfg.Bootstrap.Delay == 0 {
		cfg.Bootstrap.Delay = 2 * time.Second
	}
	if cfg.Bootstrap.TestDeviceName == "" {
		cfg.Bootstrap.TestDeviceName = "Test device"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "quira"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "quira"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.PoolSize == 0 {
		cfg.Database.PoolSize = 4
	}
	if cfg.Database.MaxIdleTime == 0 {
		cfg.Database.MaxIdleTime = 5 * time.Minute
	}

	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 1
	}
	if cfg.Breaker.Interval == 0 {
		cfg.Breaker.Interval = time.Minute
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}

	if cfg.MQTT.BrokerURL == "" {
		cfg.MQTT.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.MQTT.ClientID = fmt.Sprintf("zkbridge-%s", hostname)
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "quira"
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = 30 * time.Second
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUIRA_TERMINAL_HOST"); v != "" {
		cfg.Terminal.Host = v
	}
	if v := os.Getenv("QUIRA_TERMINAL_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Terminal.Port)
	}
	if v := os.Getenv("QUIRA_TERMINAL_COMM_KEY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Terminal.CommKey)
	}
	if v := os.Getenv("QUIRA_TERMINAL_TIMEZONE"); v != "" {
		cfg.Terminal.Timezone = v
	}
	if v := os.Getenv("QUIRA_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("QUIRA_DB_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.Port)
	}
	if v := os.Getenv("QUIRA_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("QUIRA_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("QUIRA_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("QUIRA_MQTT_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = enabled
		}
	}
	if v := os.Getenv("QUIRA_MQTT_BROKER_URL"); v != "" {
		cfg.MQTT.BrokerURL = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("QUIRA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func validate(cfg *Config) error {
	if cfg.Terminal.Port < 1 || cfg.Terminal.Port > 65535 {
		return fmt.Errorf("terminal port %d out of range", cfg.Terminal.Port)
	}
	if cfg.Terminal.Network != "udp" && cfg.Terminal.Network != "tcp" {
		return fmt.Errorf("terminal network must be udp or tcp, got %q", cfg.Terminal.Network)
	}
	if _, err := time.LoadLocation(cfg.Terminal.Timezone); err != nil {
		return fmt.Errorf("terminal timezone: %w", err)
	}
	if cfg.Bootstrap.Attempts < 1 {
		return fmt.Errorf("bootstrap attempts must be at least 1")
	}
	if cfg.Database.Password == "" && cfg.Service.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}
