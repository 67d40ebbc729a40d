package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port int

	Directory DirectoryConfig
	Analysis  AnalysisConfig

	SafetyPolicy    string
	GracePeriodDays int

	CacheBackend string
	Redis        RedisConfig
	DBURL        string
	Mongo        MongoConfig

	JWTSecret         string
	JWTAccessTTL      time.Duration
	AdminUsername     string
	AdminPasswordHash string

	CORSOrigins  []string
	OTLPEndpoint string

	ResendAPIKey string
	MessageFrom  string

	RefreshInterval time.Duration
	RefresherPort   int
}

type DirectoryConfig struct {
	BaseURL           string
	Username          string
	Password          string
	Timeout           time.Duration
	DeleteConcurrency int
}

type AnalysisConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	URI string
	DB  string
}

// Load reads .env (when present) and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 8080),

		Directory: DirectoryConfig{
			BaseURL:           getEnv("DIRECTORY_BASE_URL", "https://gofastbackend.onrender.com/tripwell"),
			Username:          getEnv("DIRECTORY_USERNAME", ""),
			Password:          getEnv("DIRECTORY_PASSWORD", ""),
			Timeout:           getEnvDuration("DIRECTORY_TIMEOUT", 20*time.Second),
			DeleteConcurrency: getEnvInt("DELETE_CONCURRENCY", 8),
		},
		Analysis: AnalysisConfig{
			BaseURL: getEnv("ANALYSIS_BASE_URL", ""),
			Timeout: getEnvDuration("ANALYSIS_TIMEOUT", 15*time.Second),
		},

		SafetyPolicy:    getEnv("SAFETY_POLICY", "auto"),
		GracePeriodDays: getEnvInt("GRACE_PERIOD_DAYS", 15),

		CacheBackend: strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		DBURL: buildDBURL(),
		Mongo: MongoConfig{
			URI: getEnv("MONGODB_URI", "mongodb://127.0.0.1:27017"),
			DB:  getEnv("MONGODB_DB", "tripadmin"),
		},

		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTAccessTTL:      time.Duration(getEnvInt("JWT_ACCESS_TTL_MINUTES", 60)) * time.Minute,
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		CORSOrigins:  getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		MessageFrom:  getEnv("MESSAGE_FROM", "TripWell <hello@tripwell.app>"),

		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 5*time.Minute),
		RefresherPort:   getEnvInt("REFRESHER_PORT", 8081),
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "tripadmin")
	pass := getEnv("DB_PASSWORD", "tripadmin")
	name := getEnv("DB_NAME", "tripadmin")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
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

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid int env, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}

		return num
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}

	slog.Warn("invalid duration env, using default", "key", key, "value", v, "default", fallback)
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
