// Package config provides configuration management for the authorization
// server.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration files (YAML)
// 2. Environment variables
// 3. Command line flags (if applicable)
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	IdP         IdPConfig         `mapstructure:"idp"`
	Token       TokenConfig       `mapstructure:"token"`
	Database    DatabaseConfig    `mapstructure:"database"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Fabric      FabricConfig      `mapstructure:"fabric"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	RBAC        RBACConfig        `mapstructure:"rbac"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	EnableCORS         bool     `mapstructure:"enable_cors"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`
}

// Validate validates server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", sc.Port)
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	return nil
}

// IdPConfig contains the outbound OIDC identity provider client used by
// the Auth Coordinator's authorization-code exchange.
type IdPConfig struct {
	Authority   string `mapstructure:"authority"`
	ClientID    string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI string `mapstructure:"redirect_uri"`
	Scope       string `mapstructure:"scope"`
}

// Validate validates IdP configuration.
func (ic *IdPConfig) Validate() error {
	if ic.Authority == "" {
		return errors.New("idp authority is required")
	}
	if ic.ClientID == "" {
		return errors.New("idp client_id is required")
	}
	if ic.RedirectURI == "" {
		return errors.New("idp redirect_uri is required")
	}
	return nil
}

// TokenConfig controls the Token Manager's signing and token shape
// (generalized from the teacher's AuthConfig).
type TokenConfig struct {
	Secret            string `mapstructure:"secret"`
	Issuer            string `mapstructure:"issuer"`
	Audience          string `mapstructure:"audience"`
	Algorithm         string `mapstructure:"algorithm"`
	ExpirationMinutes int    `mapstructure:"expiration_minutes"`
	RefreshTTLHours   int    `mapstructure:"refresh_ttl_hours"`
	MaxPermissions    int    `mapstructure:"max_permissions"`
}

// Validate validates token configuration. Only HS256 is supported; the
// teacher's RS256 branch is generalized away per the governing
// specification's "symmetric HMAC" requirement, so an RS256 request here
// is rejected rather than silently downgraded.
func (tc *TokenConfig) Validate() error {
	if tc.Algorithm == "" {
		tc.Algorithm = "HS256"
	}
	if tc.Algorithm != "HS256" {
		return fmt.Errorf("unsupported token algorithm %q, only HS256 is supported", tc.Algorithm)
	}
	if len(tc.Secret) < 32 {
		return errors.New("token secret must be at least 32 bytes")
	}
	if tc.Issuer == "" {
		return errors.New("token issuer is required")
	}
	if tc.ExpirationMinutes <= 0 {
		return errors.New("token expiration_minutes must be greater than 0")
	}
	if tc.RefreshTTLHours <= 0 {
		return errors.New("token refresh_ttl_hours must be greater than 0")
	}
	if tc.MaxPermissions <= 0 {
		return errors.New("token max_permissions must be greater than 0")
	}
	return nil
}

// DatabaseConfig contains PostgreSQL configuration for the Persistence
// Layer (organizations, users, memberships, roles, permissions,
// role_permissions, user_roles, blacklist).
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	Schema          string `mapstructure:"schema"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
}

// Validate validates database configuration.
func (dc *DatabaseConfig) Validate() error {
	if dc.URL != "" {
		if dc.MaxOpenConns < 0 || dc.MaxIdleConns < 0 {
			return errors.New("max_open_conns/max_idle_conns cannot be negative")
		}
		return nil
	}
	if dc.Host == "" {
		return errors.New("either url or host must be provided")
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", dc.Port)
	}
	if dc.Database == "" {
		return errors.New("database name cannot be empty when using individual fields")
	}
	return nil
}

// GetURL returns the PostgreSQL connection URL, preferring an explicit URL
// over individually configured fields.
func (dc *DatabaseConfig) GetURL() string {
	if dc.URL != "" {
		return dc.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode, dc.Schema)
}

// ClickHouseConfig contains ClickHouse configuration for the Audit
// Pipeline's monthly-partitioned audit_events table.
type ClickHouseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Validate validates ClickHouse configuration.
func (cc *ClickHouseConfig) Validate() error {
	if cc.URL != "" {
		return nil
	}
	if cc.Host == "" {
		return errors.New("either url or host must be provided for clickhouse")
	}
	if cc.Port <= 0 || cc.Port > 65535 {
		return fmt.Errorf("invalid clickhouse port: %d", cc.Port)
	}
	if cc.Database == "" {
		return errors.New("clickhouse database cannot be empty when using individual fields")
	}
	return nil
}

// GetURL returns the ClickHouse connection URL.
func (cc *ClickHouseConfig) GetURL() string {
	if cc.URL != "" {
		return cc.URL
	}
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s", cc.User, cc.Password, cc.Host, cc.Port, cc.Database)
}

// RedisConfig backs the Message Fabric's Redis Streams transport and the
// Permission Engine's materialized projection cache store.
type RedisConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	Database     int    `mapstructure:"database"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// Validate validates Redis configuration.
func (rc *RedisConfig) Validate() error {
	if rc.URL != "" {
		if rc.PoolSize < 0 {
			return errors.New("pool_size cannot be negative")
		}
		return nil
	}
	if rc.Host == "" {
		return errors.New("either url or host must be provided for redis")
	}
	if rc.Port <= 0 || rc.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", rc.Port)
	}
	if rc.Database < 0 || rc.Database > 15 {
		return fmt.Errorf("invalid redis database number: %d (must be 0-15)", rc.Database)
	}
	return nil
}

// GetURL returns the Redis connection URL.
func (rc *RedisConfig) GetURL() string {
	if rc.URL != "" {
		return rc.URL
	}
	if rc.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", rc.Password, rc.Host, rc.Port, rc.Database)
	}
	return fmt.Sprintf("redis://%s:%d/%d", rc.Host, rc.Port, rc.Database)
}

// FabricConfig controls the Message Fabric's scheduling, retry, and
// circuit-breaker behavior; it has no teacher analogue and is modeled in
// shape after AuthConfig's rate-limit block.
type FabricConfig struct {
	Transport           string  `mapstructure:"transport"` // inmemory, redis
	MaxInFlight          int     `mapstructure:"max_in_flight"`
	Prefetch             int     `mapstructure:"prefetch"`
	CallTimeoutSeconds   int     `mapstructure:"call_timeout_seconds"`
	RetryMaxAttempts     int     `mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs int    `mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs    int     `mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier      float64 `mapstructure:"retry_multiplier"`
	BreakerFailureThreshold int  `mapstructure:"breaker_failure_threshold"`
	BreakerWindowSeconds    int  `mapstructure:"breaker_window_seconds"`
	BreakerOpenSeconds      int  `mapstructure:"breaker_open_seconds"`
}

// Validate validates fabric configuration.
func (fc *FabricConfig) Validate() error {
	switch fc.Transport {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("unsupported fabric transport %q, must be inmemory or redis", fc.Transport)
	}
	if fc.MaxInFlight <= 0 {
		return errors.New("fabric max_in_flight must be greater than 0")
	}
	if fc.RetryMaxAttempts <= 0 {
		return errors.New("fabric retry_max_attempts must be greater than 0")
	}
	return nil
}

// MaintenanceConfig controls the background cadences for blacklist
// cleanup, expired-grant sweeps, and cache-projection refresh — grounded
// on the teacher's WorkersConfig.
type MaintenanceConfig struct {
	TokenCleanupIntervalMinutes      int `mapstructure:"token_cleanup_interval_minutes"`
	RoleExpiryIntervalMinutes        int `mapstructure:"role_expiry_interval_minutes"`
	ProjectionRefreshIntervalMinutes int `mapstructure:"projection_refresh_interval_minutes"`
}

// Validate validates maintenance configuration.
func (mc *MaintenanceConfig) Validate() error {
	if mc.TokenCleanupIntervalMinutes <= 0 {
		return errors.New("maintenance token_cleanup_interval_minutes must be greater than 0")
	}
	if mc.RoleExpiryIntervalMinutes <= 0 {
		return errors.New("maintenance role_expiry_interval_minutes must be greater than 0")
	}
	if mc.ProjectionRefreshIntervalMinutes <= 0 {
		return errors.New("maintenance projection_refresh_interval_minutes must be greater than 0")
	}
	return nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Validate validates logging configuration.
func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	return nil
}

// RBACConfig controls the Permission Engine's materialized projection
// cache.
type RBACConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// Validate validates RBAC configuration.
func (rc *RBACConfig) Validate() error {
	if rc.CacheSize <= 0 {
		return errors.New("rbac cache_size must be greater than 0")
	}
	return nil
}

// Validate validates the main configuration and all sub-configurations.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.IdP.Validate(); err != nil {
		return fmt.Errorf("idp config validation failed: %w", err)
	}
	if err := c.Token.Validate(); err != nil {
		return fmt.Errorf("token config validation failed: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config validation failed: %w", err)
	}
	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("clickhouse config validation failed: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config validation failed: %w", err)
	}
	if err := c.Fabric.Validate(); err != nil {
		return fmt.Errorf("fabric config validation failed: %w", err)
	}
	if err := c.Maintenance.Validate(); err != nil {
		return fmt.Errorf("maintenance config validation failed: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if err := c.RBAC.Validate(); err != nil {
		return fmt.Errorf("rbac config validation failed: %w", err)
	}
	return nil
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/authz")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck
	viper.BindEnv("database.url", "DATABASE_URL")
	//nolint:errcheck
	viper.BindEnv("clickhouse.url", "CLICKHOUSE_URL")
	//nolint:errcheck
	viper.BindEnv("redis.url", "REDIS_URL")
	//nolint:errcheck
	viper.BindEnv("server.port", "PORT")
	//nolint:errcheck
	viper.BindEnv("server.environment", "ENV")
	//nolint:errcheck
	viper.BindEnv("logging.level", "LOG_LEVEL")
	//nolint:errcheck
	viper.BindEnv("logging.format", "LOG_FORMAT")
	//nolint:errcheck
	viper.BindEnv("idp.authority", "IDP_AUTHORITY")
	//nolint:errcheck
	viper.BindEnv("idp.client_id", "IDP_CLIENT_ID")
	//nolint:errcheck
	viper.BindEnv("idp.client_secret", "IDP_CLIENT_SECRET")
	//nolint:errcheck
	viper.BindEnv("idp.redirect_uri", "IDP_REDIRECT_URI")
	//nolint:errcheck
	viper.BindEnv("token.secret", "TOKEN_SECRET")
	//nolint:errcheck
	viper.BindEnv("token.issuer", "TOKEN_ISSUER")
	//nolint:errcheck
	viper.BindEnv("fabric.transport", "FABRIC_TRANSPORT")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.enable_cors", true)
	viper.SetDefault("server.cors_allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"})
	viper.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Authorization"})

	viper.SetDefault("idp.scope", "openid profile email")

	viper.SetDefault("token.issuer", "authz")
	viper.SetDefault("token.audience", "authz-clients")
	viper.SetDefault("token.algorithm", "HS256")
	viper.SetDefault("token.expiration_minutes", 15)
	viper.SetDefault("token.refresh_ttl_hours", 168)
	viper.SetDefault("token.max_permissions", 500)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "authz")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.schema", "authz")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 10)

	viper.SetDefault("clickhouse.host", "localhost")
	viper.SetDefault("clickhouse.port", 9000)
	viper.SetDefault("clickhouse.user", "default")
	viper.SetDefault("clickhouse.database", "authz_audit")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 5)

	viper.SetDefault("fabric.transport", "inmemory")
	viper.SetDefault("fabric.max_in_flight", 32)
	viper.SetDefault("fabric.prefetch", 16)
	viper.SetDefault("fabric.call_timeout_seconds", 30)
	viper.SetDefault("fabric.retry_max_attempts", 3)
	viper.SetDefault("fabric.retry_initial_backoff_ms", 1000)
	viper.SetDefault("fabric.retry_max_backoff_ms", 30000)
	viper.SetDefault("fabric.retry_multiplier", 2.0)
	viper.SetDefault("fabric.breaker_failure_threshold", 5)
	viper.SetDefault("fabric.breaker_window_seconds", 60)
	viper.SetDefault("fabric.breaker_open_seconds", 300)

	viper.SetDefault("maintenance.token_cleanup_interval_minutes", 60)
	viper.SetDefault("maintenance.role_expiry_interval_minutes", 15)
	viper.SetDefault("maintenance.projection_refresh_interval_minutes", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("rbac.cache_size", 10000)
}

// GetServerAddress returns the server address string.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
