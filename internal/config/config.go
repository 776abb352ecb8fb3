package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Face     FaceConfig
	Policy   PolicyConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Cleanup  CleanupConfig
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
	ConnectTimeout    time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RateLimitRPM   int
}

// AuthConfig configures validation of the service JWTs presented by internal callers
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// ProviderConfig configures the remote face-recognition provider
type ProviderConfig struct {
	BaseURL             string
	TokenURL            string
	APIKey              string
	SecretKey           string
	GroupID             string
	RequestTimeout      time.Duration
	MaxAttempts         int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	TokenExpirySkew     time.Duration
	TokenRefreshTimeout time.Duration
}

// FaceConfig holds the profile lifecycle and quality acceptance settings
type FaceConfig struct {
	ProfileTTL        time.Duration
	MatchThreshold    float64
	DuplicateCheck    bool
	RecollectMode     string
	MinWidth          int
	MinHeight         int
	MaxImageBytes     int
	MaxImageDimension int
	MinConfidence     float64
	MaxBlur           float64
	MinIllumination   float64
	MaxOcclusion      float64
	MinCompleteness   float64
	LivenessControl   string
	LivenessThreshold float64
	CompareTimeout    time.Duration
	SweepInterval     time.Duration
	SweepConcurrency  int
	SweepPageSize     int
}

type PolicyConfig struct {
	StrategiesFile string
}

// RedisConfig is optional; an empty Addr disables the shared provider token cache
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// KafkaConfig is optional; no brokers means completions are only logged
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type CleanupConfig struct {
	RunTimeout            time.Duration
	OperationLogRetention time.Duration
}

// Recollection modes
const (
	RecollectModeAppend  = "append"
	RecollectModeReplace = "replace"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "facegate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RateLimitRPM:   getEnvAsInt("RATE_LIMIT_RPM", 120),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
			Issuer:    getEnv("JWT_ISSUER", "facegate"),
			Audience:  getEnv("JWT_AUDIENCE", "facegate-api"),
		},
		Provider: ProviderConfig{
			BaseURL:             getEnv("PROVIDER_BASE_URL", ""),
			TokenURL:            getEnv("PROVIDER_TOKEN_URL", ""),
			APIKey:              getEnv("PROVIDER_API_KEY", ""),
			SecretKey:           getEnv("PROVIDER_SECRET_KEY", ""),
			GroupID:             getEnv("PROVIDER_GROUP_ID", "default"),
			RequestTimeout:      getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 5*time.Second),
			MaxAttempts:         getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 3),
			RetryBaseDelay:      getEnvAsDuration("PROVIDER_RETRY_BASE_DELAY", 200*time.Millisecond),
			RetryMaxDelay:       getEnvAsDuration("PROVIDER_RETRY_MAX_DELAY", 2*time.Second),
			TokenExpirySkew:     getEnvAsDuration("PROVIDER_TOKEN_EXPIRY_SKEW", 5*time.Minute),
			TokenRefreshTimeout: getEnvAsDuration("PROVIDER_TOKEN_REFRESH_TIMEOUT", 10*time.Second),
		},
		Face: FaceConfig{
			ProfileTTL:        getEnvAsDuration("FACE_PROFILE_TTL", 365*24*time.Hour),
			MatchThreshold:    getEnvAsFloat("FACE_MATCH_THRESHOLD", 80),
			DuplicateCheck:    getEnvAsBool("FACE_DUPLICATE_CHECK", false),
			RecollectMode:     strings.ToLower(getEnv("FACE_RECOLLECT_MODE", RecollectModeAppend)),
			MinWidth:          getEnvAsInt("FACE_MIN_WIDTH", 48),
			MinHeight:         getEnvAsInt("FACE_MIN_HEIGHT", 48),
			MaxImageBytes:     getEnvAsInt("FACE_MAX_IMAGE_BYTES", 10<<20),
			MaxImageDimension: getEnvAsInt("FACE_MAX_IMAGE_DIMENSION", 1920),
			MinConfidence:     getEnvAsFloat("FACE_MIN_CONFIDENCE", 0.8),
			MaxBlur:           getEnvAsFloat("FACE_MAX_BLUR", 0.7),
			MinIllumination:   getEnvAsFloat("FACE_MIN_ILLUMINATION", 40),
			MaxOcclusion:      getEnvAsFloat("FACE_MAX_OCCLUSION", 0.6),
			MinCompleteness:   getEnvAsFloat("FACE_MIN_COMPLETENESS", 1),
			LivenessControl:   getEnv("FACE_LIVENESS_CONTROL", "NONE"),
			LivenessThreshold: getEnvAsFloat("FACE_LIVENESS_THRESHOLD", 0.3),
			CompareTimeout:    getEnvAsDuration("FACE_COMPARE_TIMEOUT", 10*time.Second),
			SweepInterval:     getEnvAsDuration("FACE_SWEEP_INTERVAL", 1*time.Hour),
			SweepConcurrency:  getEnvAsInt("FACE_SWEEP_CONCURRENCY", 8),
			SweepPageSize:     getEnvAsInt("FACE_SWEEP_PAGE_SIZE", 200),
		},
		Policy: PolicyConfig{
			StrategiesFile: getEnv("POLICY_STRATEGIES_FILE", "config/strategies.yaml"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			Namespace: getEnv("REDIS_NAMESPACE", "facegate"),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsList("KAFKA_BROKERS"),
			Topic:        getEnv("KAFKA_VERIFICATION_TOPIC", "face.verification.completed"),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Cleanup: CleanupConfig{
			RunTimeout:            getEnvAsDuration("CLEANUP_RUN_TIMEOUT", 10*time.Minute),
			OperationLogRetention: getEnvAsDuration("OPERATION_LOG_RETENTION", 90*24*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Provider.validate(); err != nil {
		return nil, err
	}

	switch cfg.Face.RecollectMode {
	case RecollectModeAppend, RecollectModeReplace:
	default:
		return nil, fmt.Errorf("FACE_RECOLLECT_MODE must be %q or %q (got %q)",
			RecollectModeAppend, RecollectModeReplace, cfg.Face.RecollectMode)
	}

	if cfg.Face.SweepConcurrency < 1 {
		cfg.Face.SweepConcurrency = 1
	}

	return cfg, nil
}

// validate only runs when a provider is configured; an unset base URL leaves the
// provider disabled and every provider-backed operation fails fast
func (p *ProviderConfig) validate() error {
	if p.BaseURL == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
		return fmt.Errorf("PROVIDER_BASE_URL is not a valid URL: %w", err)
	}
	if p.APIKey == "" || p.SecretKey == "" {
		return fmt.Errorf("PROVIDER_API_KEY and PROVIDER_SECRET_KEY are required when PROVIDER_BASE_URL is set")
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be at least 1 (got %d)", p.MaxAttempts)
	}
	return nil
}

// Enabled reports whether a shared Redis token cache is configured
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Enabled reports whether completion events are published to Kafka
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
