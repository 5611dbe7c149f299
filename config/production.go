// Package config provides production configuration management with secure defaults
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all production configuration settings
type ProductionConfig struct {
	Database DatabaseConfig      `json:"database"`
	Server   ServerConfig        `json:"server"`
	JWT      JWTConfig           `json:"jwt"`
	Redis    RedisConfig         `json:"redis"`
	SMS      SMSProviderConfig   `json:"sms"`
	Email    EmailProviderConfig `json:"email"`
	Dispatch DispatchConfig      `json:"dispatch"`
	Logging  LoggingConfig       `json:"logging"`
	Metrics  MetricsConfig       `json:"metrics"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"-"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
	TrustedProxies  []string      `json:"trusted_proxies"`
	ProxyHeader     string        `json:"proxy_header"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// JWTConfig holds JWT token settings
type JWTConfig struct {
	SecretKey      string        `json:"-"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
	Algorithm      string        `json:"algorithm"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// SMSProviderConfig holds SMS gateway settings
type SMSProviderConfig struct {
	ProviderDomain string        `json:"provider_domain"`
	APIKey         string        `json:"-"`
	SourceNumber   string        `json:"source_number"`
	Timeout        time.Duration `json:"timeout"`
}

// EmailProviderConfig holds email API settings
type EmailProviderConfig struct {
	ProviderDomain string        `json:"provider_domain"`
	APIKey         string        `json:"-"`
	FromAddress    string        `json:"from_address"`
	Timeout        time.Duration `json:"timeout"`
}

// DispatchConfig holds dispatch engine settings
type DispatchConfig struct {
	// TickInterval is how often the scheduler scans for due work.
	TickInterval time.Duration `json:"tick_interval"`
	// TenantWorkers bounds the number of tenants processed concurrently per tick.
	TenantWorkers int `json:"tenant_workers"`
	// BatchSize is the maximum recipients taken from one campaign per tick.
	BatchSize int `json:"batch_size"`
	// EnrollmentBatch is the maximum due enrollments processed per tick.
	EnrollmentBatch int `json:"enrollment_batch"`
	// SendTimeout bounds one provider call.
	SendTimeout time.Duration `json:"send_timeout"`
	// MaxSendRetries is how many times a transient provider failure is retried
	// before the recipient is counted failed.
	MaxSendRetries int `json:"max_send_retries"`
	// RetryBackoff is the base delay between send retries.
	RetryBackoff time.Duration `json:"retry_backoff"`
	// DefaultThrottleLimit applies to tenants without an explicit limit.
	DefaultThrottleLimit int `json:"default_throttle_limit"`
	// FailureRateThreshold aborts a campaign whose failure rate exceeds it.
	// 1.0 disables the check.
	FailureRateThreshold float64 `json:"failure_rate_threshold"`
	// SettingsCacheTTL bounds staleness of cached tenant settings.
	SettingsCacheTTL time.Duration `json:"settings_cache_ttl"`
	// UseMemoryThrottle replaces the Redis throttle gate with an in-process
	// one. Only safe for single-instance deployments.
	UseMemoryThrottle bool `json:"use_memory_throttle"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoadProductionConfig loads configuration from environment variables with production defaults
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "calliope"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
			TrustedProxies:  getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:     getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			AllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://app.calliope.dev"}),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "calliope"),
			Audience:       getEnvString("JWT_AUDIENCE", "calliope-api"),
			Algorithm:      getEnvString("JWT_ALGORITHM", "HS256"),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		SMS: SMSProviderConfig{
			ProviderDomain: getEnvString("SMS_PROVIDER_DOMAIN", "mock"),
			APIKey:         getEnvString("SMS_API_KEY", ""),
			SourceNumber:   getEnvString("SMS_SOURCE_NUMBER", ""),
			Timeout:        getEnvDuration("SMS_TIMEOUT", 30*time.Second),
		},
		Email: EmailProviderConfig{
			ProviderDomain: getEnvString("EMAIL_PROVIDER_DOMAIN", "mock"),
			APIKey:         getEnvString("EMAIL_API_KEY", ""),
			FromAddress:    getEnvString("EMAIL_FROM_ADDRESS", "noreply@calliope.dev"),
			Timeout:        getEnvDuration("EMAIL_TIMEOUT", 30*time.Second),
		},
		Dispatch: DispatchConfig{
			TickInterval:         getEnvDuration("DISPATCH_TICK_INTERVAL", 15*time.Second),
			TenantWorkers:        getEnvInt("DISPATCH_TENANT_WORKERS", 8),
			BatchSize:            getEnvInt("DISPATCH_BATCH_SIZE", 100),
			EnrollmentBatch:      getEnvInt("DISPATCH_ENROLLMENT_BATCH", 200),
			SendTimeout:          getEnvDuration("DISPATCH_SEND_TIMEOUT", 10*time.Second),
			MaxSendRetries:       getEnvInt("DISPATCH_MAX_SEND_RETRIES", 2),
			RetryBackoff:         getEnvDuration("DISPATCH_RETRY_BACKOFF", 500*time.Millisecond),
			DefaultThrottleLimit: getEnvInt("DISPATCH_DEFAULT_THROTTLE_LIMIT", 60),
			FailureRateThreshold: getEnvFloat("DISPATCH_FAILURE_RATE_THRESHOLD", 1.0),
			SettingsCacheTTL:     getEnvDuration("DISPATCH_SETTINGS_CACHE_TTL", 1*time.Minute),
			UseMemoryThrottle:    getEnvBool("DISPATCH_USE_MEMORY_THROTTLE", false),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			OutputPath: getEnvString("LOG_OUTPUT_PATH", "logs/calliope.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from a .env file if present
func loadEnvFile() error {
	envFile := ".env"

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	if cfg.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}
	if cfg.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}
	if len(cfg.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT secret key must be at least 32 characters")
	}
	if cfg.Dispatch.TickInterval < time.Second {
		return fmt.Errorf("dispatch tick interval must be at least 1s")
	}
	if cfg.Dispatch.TenantWorkers < 1 {
		return fmt.Errorf("dispatch tenant workers must be at least 1")
	}
	if cfg.Dispatch.BatchSize < 1 {
		return fmt.Errorf("dispatch batch size must be at least 1")
	}
	if cfg.Dispatch.FailureRateThreshold <= 0 || cfg.Dispatch.FailureRateThreshold > 1 {
		return fmt.Errorf("dispatch failure rate threshold must be in (0, 1]")
	}
	if cfg.SMS.ProviderDomain != "mock" && cfg.SMS.APIKey == "" {
		return fmt.Errorf("SMS API key is required for non-mock provider")
	}
	if cfg.Email.ProviderDomain != "mock" && cfg.Email.APIKey == "" {
		return fmt.Errorf("email API key is required for non-mock provider")
	}
	return nil
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
