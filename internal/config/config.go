package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PEPPERMINT_DATABASE_HOST for database.host.
const EnvPrefix = "PEPPERMINT"

var (
	cfg     *Config
	once    sync.Once
	mu      sync.RWMutex
	onSwaps []func(*Config)
)

// Config represents the application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Mail     MailConfig     `mapstructure:"mail"`
	OAuth2   OAuth2Config   `mapstructure:"oauth2"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Timezone string `mapstructure:"timezone"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   struct {
		Path       string `mapstructure:"path"`
		MaxSize    int    `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAge     int    `mapstructure:"max_age"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"file"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// MailConfig drives the inbound mail poller.
type MailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	OnlyActive      bool          `mapstructure:"only_active"`
	Schedule        string        `mapstructure:"schedule"`
	Timezone        string        `mapstructure:"timezone"`
	QueueTimeout    time.Duration `mapstructure:"queue_timeout"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
	SeenPolicy      string        `mapstructure:"seen_policy"`
	ReplyMatch      string        `mapstructure:"reply_match"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	BodyLimit       int           `mapstructure:"body_limit"`
	IMAP            IMAPConfig    `mapstructure:"imap"`
}

type IMAPConfig struct {
	StrictTLS      bool          `mapstructure:"strict_tls"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// OAuth2Config supplies client settings for queues that do not carry their own.
type OAuth2Config struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	ExpirySkew   time.Duration `mapstructure:"expiry_skew"`
}

// SetDefaults registers the built-in defaults so the job runs without a file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "peppermint-mail")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "peppermint")
	v.SetDefault("database.user", "peppermint")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.prefix", "peppermint:mail:")
	v.SetDefault("redis.dedup_ttl", 72*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.only_active", false)
	v.SetDefault("mail.schedule", "0 */1 * * * *")
	v.SetDefault("mail.timezone", "Local")
	v.SetDefault("mail.queue_timeout", 2*time.Minute)
	v.SetDefault("mail.cycle_timeout", 10*time.Minute)
	v.SetDefault("mail.seen_policy", "on_success")
	v.SetDefault("mail.reply_match", "contains")
	v.SetDefault("mail.max_message_bytes", 25<<20)
	v.SetDefault("mail.body_limit", 10<<20)
	v.SetDefault("mail.imap.strict_tls", false)
	v.SetDefault("mail.imap.dial_timeout", 10*time.Second)
	v.SetDefault("mail.imap.connect_retries", 2)
	v.SetDefault("mail.imap.retry_delay", time.Second)

	v.SetDefault("oauth2.expiry_skew", time.Minute)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigName("default")
		v.AddConfigPath(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read default config: %w", err)
			}
		}
		defaultFile := v.ConfigFileUsed()

		// Environment-specific overrides (optional)
		v.SetConfigName("config")
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to merge config: %w", err)
			}
			// Watch default.yaml when there is no override file.
			if defaultFile != "" {
				v.SetConfigFile(defaultFile)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}

// New reads configuration from configPath without touching the global copy.
func New(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// Load initializes the global configuration with hot reload support
func Load(configPath string) error {
	var err error
	once.Do(func() {
		var v *viper.Viper
		if v, err = newViper(configPath); err != nil {
			return
		}
		var loaded *Config
		if loaded, err = unmarshal(v); err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()

		if v.ConfigFileUsed() == "" {
			return
		}
		v.WatchConfig()
		v.OnConfigChange(func(fsnotify.Event) {
			newCfg, err := unmarshal(v)
			if err != nil {
				return
			}
			mu.Lock()
			cfg = newCfg
			hooks := slices.Clone(onSwaps)
			mu.Unlock()
			for _, hook := range hooks {
				hook(newCfg)
			}
		})
	})
	return err
}

// OnReload registers fn to run after a config file change was applied.
func OnReload(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	onSwaps = append(onSwaps, fn)
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadFromFile loads configuration from a specific file (useful for testing)
func LoadFromFile(configFile string) error {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	loaded, err := unmarshal(v)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = loaded
	return nil
}

// MustLoad loads configuration and panics on error
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
}

// GetDSN returns the PostgreSQL connection string. URL wins when set.
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis server address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location resolves the mail timezone; unknown names fall back to Local.
func (c *MailConfig) Location() *time.Location {
	switch c.Timezone {
	case "", "Local":
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
