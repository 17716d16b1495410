package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (unlock grants, ad sessions, device state, positions)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	// Admin
	AdminEmails  string
	AdminUserIDs string

	// Server
	Port        string
	CORSOrigins string
	Timezone    string

	// Unlock gate
	UnlockTTL         time.Duration
	AdSessionTTL      time.Duration
	AdCallbackSecret  string
	UnlockLockTimeout time.Duration

	// Push delivery
	PushEndpoint string
	PushAPIKey   string
	PushTimeout  time.Duration

	// Reminder scheduler
	PositionTimeoutForeground time.Duration
	PositionTimeoutBackground time.Duration
	PositionMaxAge            time.Duration
	WakeInterval              time.Duration

	// Logging
	LogRetention time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "restroom_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt(getEnv("REDIS_DB", "0"), 0),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m"), 15*time.Minute),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "168h"), 168*time.Hour),

		AdminEmails:  getEnv("ADMIN_EMAILS", ""),
		AdminUserIDs: getEnv("ADMIN_USER_IDS", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		Timezone:    getEnv("APP_TIMEZONE", "Asia/Seoul"),

		UnlockTTL:         parseDuration(getEnv("UNLOCK_TTL", "24h"), 24*time.Hour),
		AdSessionTTL:      parseDuration(getEnv("AD_SESSION_TTL", "10m"), 10*time.Minute),
		AdCallbackSecret:  getEnv("AD_CALLBACK_SECRET", ""),
		UnlockLockTimeout: parseDuration(getEnv("UNLOCK_INFLIGHT_TIMEOUT", "30s"), 30*time.Second),

		PushEndpoint: getEnv("PUSH_ENDPOINT", ""),
		PushAPIKey:   getEnv("PUSH_API_KEY", ""),
		PushTimeout:  parseDuration(getEnv("PUSH_TIMEOUT", "10s"), 10*time.Second),

		PositionTimeoutForeground: parseDuration(getEnv("POSITION_TIMEOUT_FOREGROUND", "5s"), 5*time.Second),
		PositionTimeoutBackground: parseDuration(getEnv("POSITION_TIMEOUT_BACKGROUND", "25s"), 25*time.Second),
		PositionMaxAge:            parseDuration(getEnv("POSITION_MAX_AGE", "10m"), 10*time.Minute),
		WakeInterval:              parseDuration(getEnv("WAKE_INTERVAL", "15m"), 15*time.Minute),

		LogRetention: parseDuration(getEnv("LOG_RETENTION", "720h"), 720*time.Hour),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// Location resolves APP_TIMEZONE, falling back to UTC when the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("unknown APP_TIMEZONE, using UTC", "timezone", c.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
