package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by LoadFromEnv.
const EnvPrefix = "MQTT_SAMPLES_"

// Config holds the configuration shared by the sample programs
type Config struct {
	// MQTT connection
	Endpoint          string        `yaml:"endpoint"`
	Port              int           `yaml:"port"`
	ClientID          string        `yaml:"client_id"`
	CertPath          string        `yaml:"cert"`
	KeyPath           string        `yaml:"key"`
	CAPath            string        `yaml:"ca_file"`
	Plaintext         bool          `yaml:"plaintext"`
	CleanSession      bool          `yaml:"clean_session"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectMin      time.Duration `yaml:"reconnect_min"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	DisconnectQuiesce time.Duration `yaml:"disconnect_quiesce"`

	// Proxy configuration
	ProxyHost   string `yaml:"proxy_host"`
	ProxyPort   int    `yaml:"proxy_port"`
	ProxyScheme string `yaml:"proxy_scheme"`

	// Sample behaviour
	Topic               string `yaml:"topic"`
	Message             string `yaml:"message"`
	IsCI                bool   `yaml:"is_ci"`
	AnalysisCommand     string `yaml:"analysis_command"`
	AnalysisConcurrency int    `yaml:"analysis_concurrency"`

	// Service configuration
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`
	HealthPort  int    `yaml:"health_port"`

	// Delivery journal (Redis)
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	JournalMaxEntries int           `yaml:"journal_max_entries"`
	JournalTTL        time.Duration `yaml:"journal_ttl"`

	// Lifecycle audit (PostgreSQL)
	PostgresDSN string `yaml:"postgres_dsn"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Endpoint:            "",
		Port:                8883,
		ClientID:            fmt.Sprintf("test-%s", uuid.NewString()),
		CleanSession:        false,
		KeepAlive:           30 * time.Second,
		ConnectTimeout:      10 * time.Second,
		ReconnectMin:        1 * time.Second,
		ReconnectMax:        2 * time.Minute,
		DisconnectQuiesce:   250 * time.Millisecond,
		ProxyScheme:         "http",
		Topic:               "test/topic",
		Message:             "Test Message",
		AnalysisCommand:     "payload-analysis",
		AnalysisConcurrency: 4,
		ServiceName:         "mqtt-sample",
		LogLevel:            "info",
		HealthPort:          0,
		JournalMaxEntries:   1000,
		JournalTTL:          24 * time.Hour,
	}
}

// LoadFromFile overlays the values present in a YAML file onto the config.
// Keys missing from the file keep their current value.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables with the MQTT_SAMPLES_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	envString("ENDPOINT", &c.Endpoint)
	envInt("PORT", &c.Port)
	envString("CLIENT_ID", &c.ClientID)
	envString("CERT", &c.CertPath)
	envString("KEY", &c.KeyPath)
	envString("CA_FILE", &c.CAPath)
	envBool("PLAINTEXT", &c.Plaintext)
	envBool("CLEAN_SESSION", &c.CleanSession)
	envDuration("KEEP_ALIVE", &c.KeepAlive)
	envDuration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	envDuration("RECONNECT_MIN", &c.ReconnectMin)
	envDuration("RECONNECT_MAX", &c.ReconnectMax)
	envDuration("DISCONNECT_QUIESCE", &c.DisconnectQuiesce)

	// Proxy configuration
	envString("PROXY_HOST", &c.ProxyHost)
	envInt("PROXY_PORT", &c.ProxyPort)
	envString("PROXY_SCHEME", &c.ProxyScheme)

	// Sample behaviour
	envString("TOPIC", &c.Topic)
	envString("MESSAGE", &c.Message)
	envBool("IS_CI", &c.IsCI)
	envString("ANALYSIS_COMMAND", &c.AnalysisCommand)
	envInt("ANALYSIS_CONCURRENCY", &c.AnalysisConcurrency)

	// Service configuration
	envString("SERVICE_NAME", &c.ServiceName)
	envString("LOG_LEVEL", &c.LogLevel)
	envInt("HEALTH_PORT", &c.HealthPort)

	// Redis configuration
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)
	envInt("JOURNAL_MAX_ENTRIES", &c.JournalMaxEntries)
	envDuration("JOURNAL_TTL", &c.JournalTTL)

	// PostgreSQL configuration
	envString("POSTGRES_DSN", &c.PostgresDSN)
}

// LoadFromFlags parses command-line flags and overrides config values.
//
// When --config names a YAML file it is applied after the environment has been
// re-read, and every flag given explicitly on the command line is re-applied on
// top, so the precedence is defaults → file → env → flags.
//
// extra registers program-specific flags on the same flag set.
func (c *Config) LoadFromFlags(args []string, extra ...func(fs *pflag.FlagSet)) error {
	fs := pflag.NewFlagSet(c.ServiceName, pflag.ContinueOnError)
	configFile := fs.String("config", os.Getenv(EnvPrefix+"CONFIG"), "Path to a YAML configuration file")
	c.registerFlags(fs)
	for _, register := range extra {
		register(fs)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *configFile == "" {
		return nil
	}

	explicit := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := c.LoadFromFile(*configFile); err != nil {
		return err
	}
	c.LoadFromEnv()

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("failed to re-apply flag --%s: %w", name, err)
		}
	}

	return nil
}

func (c *Config) registerFlags(fs *pflag.FlagSet) {
	// MQTT flags
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "MQTT broker endpoint hostname")
	fs.IntVar(&c.Port, "port", c.Port, "MQTT broker port (8883 or 443 for TLS)")
	fs.StringVar(&c.ClientID, "client-id", c.ClientID, "Client ID to use for the MQTT connection")
	fs.StringVar(&c.CertPath, "cert", c.CertPath, "Path to the client certificate in PEM format")
	fs.StringVar(&c.KeyPath, "key", c.KeyPath, "Path to the private key in PEM format")
	fs.StringVar(&c.CAPath, "ca-file", c.CAPath, "Path to a CA bundle in PEM format (optional)")
	fs.BoolVar(&c.Plaintext, "plaintext", c.Plaintext, "Connect without TLS (local brokers only)")
	fs.BoolVar(&c.CleanSession, "clean-session", c.CleanSession, "Ask the broker to discard any previous session")
	fs.DurationVar(&c.KeepAlive, "keep-alive", c.KeepAlive, "MQTT keep-alive interval")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "Timeout for a single connection attempt")
	fs.DurationVar(&c.ReconnectMin, "reconnect-min", c.ReconnectMin, "Initial reconnect backoff")
	fs.DurationVar(&c.ReconnectMax, "reconnect-max", c.ReconnectMax, "Maximum reconnect backoff")
	fs.DurationVar(&c.DisconnectQuiesce, "disconnect-quiesce", c.DisconnectQuiesce, "Time allowed to flush in-flight messages on disconnect")

	// Proxy flags
	fs.StringVar(&c.ProxyHost, "proxy-host", c.ProxyHost, "Proxy hostname (optional)")
	fs.IntVar(&c.ProxyPort, "proxy-port", c.ProxyPort, "Proxy port")
	fs.StringVar(&c.ProxyScheme, "proxy-scheme", c.ProxyScheme, "Proxy protocol (http, socks5)")

	// Sample flags
	fs.StringVar(&c.Topic, "topic", c.Topic, "Topic to publish and subscribe to")
	fs.StringVar(&c.Message, "message", c.Message, "Message to publish")
	fs.BoolVar(&c.IsCI, "is-ci", c.IsCI, "Run in CI mode (hides endpoint and client ID)")
	fs.StringVar(&c.AnalysisCommand, "analysis-command", c.AnalysisCommand, "Command run for every received message (empty analyzes in-process)")
	fs.IntVar(&c.AnalysisConcurrency, "analysis-concurrency", c.AnalysisConcurrency, "Maximum concurrent analysis processes")

	// Service flags
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port (0 disables)")

	// Redis flags
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for the delivery journal (optional)")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	fs.IntVar(&c.JournalMaxEntries, "journal-max-entries", c.JournalMaxEntries, "Maximum journal entries kept per list")
	fs.DurationVar(&c.JournalTTL, "journal-ttl", c.JournalTTL, "Expiry of journal lists")

	// PostgreSQL flags
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "PostgreSQL DSN for the lifecycle audit (optional)")
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if !c.Plaintext {
		if c.CertPath == "" {
			return fmt.Errorf("cert is required unless --plaintext is set")
		}
		if c.KeyPath == "" {
			return fmt.Errorf("key is required unless --plaintext is set")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if c.KeepAlive < time.Second {
		return fmt.Errorf("keep-alive must be at least 1s")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("reconnect backoff must satisfy 0 < min <= max")
	}
	if c.DisconnectQuiesce < 0 {
		return fmt.Errorf("disconnect quiesce cannot be negative")
	}

	if c.ProxyHost != "" {
		if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
			return fmt.Errorf("proxy port must be between 1 and 65535")
		}
		if c.ProxyScheme != "http" && c.ProxyScheme != "socks5" {
			return fmt.Errorf("invalid proxy scheme: %s (must be http or socks5)", c.ProxyScheme)
		}
	}

	if c.AnalysisConcurrency <= 0 {
		return fmt.Errorf("analysis concurrency must be positive")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("health port must be between 0 and 65535")
	}
	if c.JournalMaxEntries <= 0 {
		return fmt.Errorf("journal max entries must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// BrokerURL returns the full broker address in the form paho expects
func (c *Config) BrokerURL() string {
	scheme := "ssl"
	if c.Plaintext {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.Endpoint, strconv.Itoa(c.Port)))
}

// ProxyURL returns the proxy address, or nil when no proxy is configured
func (c *Config) ProxyURL() *url.URL {
	if c.ProxyHost == "" {
		return nil
	}
	return &url.URL{
		Scheme: c.ProxyScheme,
		Host:   net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort)),
	}
}

// JournalEnabled reports whether deliveries should be journaled to Redis
func (c *Config) JournalEnabled() bool {
	return c.RedisAddr != ""
}

// AuditEnabled reports whether lifecycle events should be written to PostgreSQL
func (c *Config) AuditEnabled() bool {
	return c.PostgresDSN != ""
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
