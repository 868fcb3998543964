package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	AllowedOrigins []string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	UseMemoryQueue bool
	WorkerCount    int
	DialogQueueURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	GeminiAPIKey  string
	GeminiModelID string
	OpenAIAPIKey  string
	OpenAIModelID string

	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string

	CalendarCredentialsFile string

	DefaultTimezone     string
	SessionIdleTimeout  time.Duration
	AppointmentDuration time.Duration
	HistoryLimit        int
	DedupeTTL           time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DialogQueueURL: getEnv("DIALOG_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModelID: getEnv("OPENAI_MODEL_ID", "gpt-4o-mini"),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		CalendarCredentialsFile: getEnv("CALENDAR_CREDENTIALS_FILE", "google_service_account.json"),

		DefaultTimezone:     getEnv("DEFAULT_TIMEZONE", "America/Bogota"),
		SessionIdleTimeout:  getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		AppointmentDuration: getEnvAsDuration("APPOINTMENT_DURATION", time.Hour),
		HistoryLimit:        getEnvAsInt("HISTORY_LIMIT", 10),
		DedupeTTL:           getEnvAsDuration("DEDUPE_TTL", 24*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
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

// getEnvAsList splits a comma-separated environment variable into a slice
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
