package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/feedbackhub/internal/reconcile"
	"github.com/geocoder89/feedbackhub/internal/security"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	SecretKey       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	AdminEmail            string
	AdminPassword         string
	AdminRole             string
	AdminPolicy           reconcile.Policy
	AdminReconcileTimeout time.Duration

	HashCost    int
	HashWorkers int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL    string
	OTelEndpoint string

	CORSAllowedOrigins []string
	RateLimitWindow    time.Duration
}

// Load reads configuration from the environment, after an optional .env file.
// Every problem found is returned together.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error

	cfg := Config{
		Env:           getEnv("APP_ENV", "dev"),
		SecretKey:     os.Getenv("SECRET_KEY"),
		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminRole:     getEnv("ADMIN_ROLE", "admin"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		OTelEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS",
			"http://localhost:3000,http://localhost:8000,http://127.0.0.1:3000")),
	}

	cfg.Port = getEnvInt("PORT", 8080, &errs)
	cfg.RedisDB = getEnvInt("REDIS_DB", 0, &errs)
	cfg.HashCost = getEnvInt("HASH_COST", security.DefaultHashCost, &errs)
	cfg.HashWorkers = getEnvInt("HASH_WORKERS", runtime.GOMAXPROCS(0), &errs)

	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 60*time.Minute, &errs)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour, &errs)
	cfg.AdminReconcileTimeout = getEnvDuration("ADMIN_RECONCILE_TIMEOUT", 30*time.Second, &errs)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Minute, &errs)

	cfg.DBURL = os.Getenv("DATABASE_URL")
	if cfg.DBURL == "" && (cfg.Env != "dev" || os.Getenv("DB_HOST") != "") {
		cfg.DBURL = buildDBURL()
	}

	if err := security.ValidateSecretKey(cfg.SecretKey); err != nil {
		errs = append(errs, fmt.Errorf("SECRET_KEY: %w", err))
	}

	policy, err := reconcile.ParsePolicy(os.Getenv("ADMIN_POLICY"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ADMIN_POLICY: %w", err))
	}
	cfg.AdminPolicy = policy

	if cfg.HashCost < bcrypt.MinCost || cfg.HashCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("HASH_COST: must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if cfg.HashWorkers < 1 {
		errs = append(errs, errors.New("HASH_WORKERS: must be at least 1"))
	}

	return cfg, errors.Join(errs...)
}

// UseMemoryStore reports whether accounts live in process memory (dev without a database).
func (c Config) UseMemoryStore() bool {
	return c.DBURL == ""
}

// MissingAdminVar names the admin variable left unset when only one of
// ADMIN_EMAIL and ADMIN_PASSWORD is given. Reconciliation is skipped in that case.
func (c Config) MissingAdminVar() string {
	switch {
	case c.AdminEmail != "" && c.AdminPassword == "":
		return "ADMIN_PASSWORD"
	case c.AdminEmail == "" && c.AdminPassword != "":
		return "ADMIN_EMAIL"
	}
	return ""
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "feedbackhub")
	pass := getEnv("DB_PASSWORD", "feedbackhub")
	name := getEnv("DB_NAME", "feedbackhub")
	ssl := getEnv("DB_SSLMODE", "disable")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": {ssl}}.Encode(),
	}

	return u.String()
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	num, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}

	return num
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	if d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: must be positive", key))
		return fallback
	}

	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
