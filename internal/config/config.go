package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Identity IdentityConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// SecurityConfig holds the identity-subsystem knobs. MasterSecret feeds key
// derivation for PII encryption and must be supplied externally; there is no
// compiled-in fallback.
type SecurityConfig struct {
	MasterSecret        string
	KDFIterations       int
	OTPExpiry           time.Duration
	RateLimitWindow     time.Duration
	MaxLoginAttempts    int
	MaxOTPRequests      int
	MaxOTPVerifies      int
	MaxRegistrations    int
	MaxPasswordResets   int
	MaxPIIDecrypts      int
	SessionTokenSecret  string
	TOTPIssuer          string
	CleanupInterval     time.Duration
}

// IdentityConfig points at the external credential/identity provider.
type IdentityConfig struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

const minKDFIterations = 100000

func Load() (*Config, error) {
	_ = godotenv.Load()

	masterSecret := getEnv("PII_MASTER_SECRET", "")
	if masterSecret == "" {
		return nil, fmt.Errorf("PII_MASTER_SECRET is required")
	}

	sessionSecret := getEnv("SESSION_TOKEN_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "climate_assistant"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Security: SecurityConfig{
			MasterSecret:       masterSecret,
			KDFIterations:      getEnvAsInt("PII_KDF_ITERATIONS", 150000),
			OTPExpiry:          getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			RateLimitWindow:    getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			MaxLoginAttempts:   getEnvAsInt("RATE_LIMIT_MAX_LOGIN", 5),
			MaxOTPRequests:     getEnvAsInt("RATE_LIMIT_MAX_OTP_REQUEST", 3),
			MaxOTPVerifies:     getEnvAsInt("RATE_LIMIT_MAX_OTP_VERIFY", 5),
			MaxRegistrations:   getEnvAsInt("RATE_LIMIT_MAX_REGISTER", 3),
			MaxPasswordResets:  getEnvAsInt("RATE_LIMIT_MAX_PASSWORD_RESET", 3),
			MaxPIIDecrypts:     getEnvAsInt("RATE_LIMIT_MAX_PII_DECRYPT", 30),
			SessionTokenSecret: sessionSecret,
			TOTPIssuer:         getEnv("TOTP_ISSUER", "Climate Economy Assistant"),
			CleanupInterval:    getEnvAsDuration("SECURITY_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Identity: IdentityConfig{
			BaseURL:    getEnv("IDENTITY_PROVIDER_URL", "http://localhost:9091"),
			ServiceKey: getEnv("IDENTITY_PROVIDER_KEY", ""),
			Timeout:    getEnvAsDuration("IDENTITY_PROVIDER_TIMEOUT", 10*time.Second),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@climateeconomyassistant.org"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateMasterSecret(masterSecret, env); err != nil {
		return nil, err
	}

	if cfg.Security.KDFIterations < minKDFIterations {
		return nil, fmt.Errorf("PII_KDF_ITERATIONS must be at least %d (got %d)",
			minKDFIterations, cfg.Security.KDFIterations)
	}

	return cfg, nil
}

// validateMasterSecret enforces minimum strength for the PII master secret.
// A weak or default value here silently weakens every encrypted field, so
// startup fails instead.
func validateMasterSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("PII_MASTER_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example", "master",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak || strings.HasPrefix(secretLower, weak+"-") {
			return fmt.Errorf("PII_MASTER_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
