package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	DatabaseURL   string

	// LedgerBackend selects where dedup fingerprints live: "memory" or "redis".
	LedgerBackend string
	SnapshotTTL   time.Duration

	ClinicTimezone      string
	OnlineFee           string
	InPersonFee         string
	ClinicCities        []string
	WelcomeMessage      string
	ClearRecordsOnReset bool

	OperatorJWTSecret  string
	CORSAllowedOrigins []string
	// SessionStartRate limits POST /api/sessions per client, in requests per second.
	SessionStartRate  float64
	SessionStartBurst int

	// BotWSURL is the default upstream voice bot socket used when a session
	// is started without its own URL.
	BotWSURL string

	// EmailProvider selects the confirmation sender: "ses", "sendgrid" or
	// "stub". Empty picks SendGrid when configured, otherwise the stub.
	EmailProvider string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	SESFromEmail        string
	SESFromName         string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		LedgerBackend: strings.ToLower(strings.TrimSpace(getEnv("LEDGER_BACKEND", "memory"))),
		SnapshotTTL:   getEnvAsDuration("SNAPSHOT_TTL", 24*time.Hour),

		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		OnlineFee:           getEnv("ONLINE_FEE", "99 INR"),
		InPersonFee:         getEnv("IN_PERSON_FEE", "499 INR"),
		ClinicCities:        getEnvAsList("CLINIC_CITIES", []string{"bangalore", "hyderabad"}),
		WelcomeMessage:      getEnv("WELCOME_MESSAGE", "Hi, this is Dr. Riya from Physiotattva. How can I assist you today?"),
		ClearRecordsOnReset: getEnvAsBool("CLEAR_RECORDS_ON_RESET", false),

		OperatorJWTSecret:  getEnv("OPERATOR_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		SessionStartRate:   getEnvAsFloat("SESSION_START_RATE", 1),
		SessionStartBurst:  getEnvAsInt("SESSION_START_BURST", 5),

		BotWSURL: getEnv("BOT_WS_URL", ""),

		EmailProvider: strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", ""))),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Physiotattva"),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESFromName:         getEnv("SES_FROM_NAME", "Physiotattva"),
	}
}

// UseRedisLedger reports whether dedup fingerprints should be kept in Redis.
func (c *Config) UseRedisLedger() bool {
	return c.LedgerBackend == "redis" && c.RedisAddr != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
