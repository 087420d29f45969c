package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Sync       SyncConfig
	QuickBooks QuickBooksConfig
	OAuthState OAuthStateConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings for the webhook dedup store.
// When Enabled is false an in-memory store is used instead.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// SyncConfig holds sync worker pool and queue configuration
type SyncConfig struct {
	Enabled      bool
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	// LeaseTTL is the crash backstop: an in_progress job whose lease expired
	// becomes eligible again
	LeaseTTL time.Duration
	// JobTimeout is the wall-clock budget per job including token refresh
	JobTimeout time.Duration
	// CallTimeout bounds each outbound HTTP call
	CallTimeout time.Duration
	// TokenRefreshMargin is the safety margin before access-token expiry
	TokenRefreshMargin time.Duration
	// BackoffBase and BackoffCap bound the retry schedule
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	// WebhookDedupTTL is the retention for seen webhook identities
	WebhookDedupTTL time.Duration
}

// QuickBooksConfig holds the external accounting provider settings
type QuickBooksConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// WebhookVerifierToken is the shared secret for webhook HMAC verification
	WebhookVerifierToken string
	AuthURL              string
	TokenURL             string
	APIBaseURL           string
	Scopes               []string
}

// OAuthStateConfig holds settings for the signed connect-flow state parameter
type OAuthStateConfig struct {
	// Secret signs the state JWT binding organization and nonce
	Secret string
	// TTL bounds how long a connect attempt stays valid
	TTL time.Duration
	// CookieSecure should be true in production (HTTPS)
	CookieSecure bool
}

// TelemetryConfig holds OpenTelemetry settings. Traces and the log bridge
// share the collector endpoint.
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	// LogsEnabled tees zap output into the OTLP log pipeline
	LogsEnabled bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STRATA_ prefix (e.g., STRATA_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Sync: SyncConfig{
			Enabled:            v.GetBool("sync.enabled"),
			Workers:            v.GetInt("sync.workers"),
			PollInterval:       v.GetDuration("sync.poll_interval"),
			BatchSize:          v.GetInt("sync.batch_size"),
			LeaseTTL:           v.GetDuration("sync.lease_ttl"),
			JobTimeout:         v.GetDuration("sync.job_timeout"),
			CallTimeout:        v.GetDuration("sync.call_timeout"),
			TokenRefreshMargin: v.GetDuration("sync.token_refresh_margin"),
			BackoffBase:        v.GetDuration("sync.backoff_base"),
			BackoffCap:         v.GetDuration("sync.backoff_cap"),
			MaxAttempts:        v.GetInt("sync.max_attempts"),
			WebhookDedupTTL:    v.GetDuration("sync.webhook_dedup_ttl"),
		},
		QuickBooks: QuickBooksConfig{
			ClientID:             v.GetString("quickbooks.client_id"),
			ClientSecret:         v.GetString("quickbooks.client_secret"),
			RedirectURL:          v.GetString("quickbooks.redirect_url"),
			WebhookVerifierToken: v.GetString("quickbooks.webhook_verifier_token"),
			AuthURL:              v.GetString("quickbooks.auth_url"),
			TokenURL:             v.GetString("quickbooks.token_url"),
			APIBaseURL:           v.GetString("quickbooks.api_base_url"),
			Scopes:               v.GetStringSlice("quickbooks.scopes"),
		},
		OAuthState: OAuthStateConfig{
			Secret:       v.GetString("oauth_state.secret"),
			TTL:          v.GetDuration("oauth_state.ttl"),
			CookieSecure: v.GetBool("oauth_state.cookie_secure"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "strata-accounting-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "strata"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB, webhook payloads are small
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.PollInterval == 0 {
		cfg.Sync.PollInterval = 5 * time.Second
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 20
	}
	if cfg.Sync.LeaseTTL == 0 {
		cfg.Sync.LeaseTTL = 5 * time.Minute
	}
	if cfg.Sync.JobTimeout == 0 {
		cfg.Sync.JobTimeout = 60 * time.Second
	}
	if cfg.Sync.CallTimeout == 0 {
		cfg.Sync.CallTimeout = 15 * time.Second
	}
	if cfg.Sync.TokenRefreshMargin == 0 {
		cfg.Sync.TokenRefreshMargin = 2 * time.Minute
	}
	if cfg.Sync.BackoffBase == 0 {
		cfg.Sync.BackoffBase = 30 * time.Second
	}
	if cfg.Sync.BackoffCap == 0 {
		cfg.Sync.BackoffCap = time.Hour
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 8
	}
	if cfg.Sync.WebhookDedupTTL == 0 {
		cfg.Sync.WebhookDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.QuickBooks.AuthURL == "" {
		cfg.QuickBooks.AuthURL = "https://appcenter.intuit.com/connect/oauth2"
	}
	if cfg.QuickBooks.TokenURL == "" {
		cfg.QuickBooks.TokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	}
	if cfg.QuickBooks.APIBaseURL == "" {
		cfg.QuickBooks.APIBaseURL = "https://quickbooks.api.intuit.com"
	}
	if len(cfg.QuickBooks.Scopes) == 0 {
		cfg.QuickBooks.Scopes = []string{"com.intuit.quickbooks.accounting"}
	}
	if cfg.OAuthState.TTL == 0 {
		cfg.OAuthState.TTL = 10 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.BackoffCap < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_cap cannot be below sync.backoff_base")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.QuickBooks.ClientID == "" || c.QuickBooks.ClientSecret == "" {
			return fmt.Errorf("quickbooks.client_id and quickbooks.client_secret are required in production")
		}
		if c.QuickBooks.WebhookVerifierToken == "" {
			return fmt.Errorf("quickbooks.webhook_verifier_token is required in production")
		}
		if len(c.OAuthState.Secret) < 32 {
			return fmt.Errorf("oauth_state.secret must be at least 32 characters in production")
		}
		if !c.OAuthState.CookieSecure {
			return fmt.Errorf("oauth_state.cookie_secure must be true in production (HTTPS required)")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
