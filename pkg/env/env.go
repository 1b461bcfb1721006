package env

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string
	TZ      string

	// Public HTTPS host the telephony provider can reach. Callback and media
	// streaming URLs are derived from it.
	CallbackHost string

	// ACS call automation + SMS
	ACSConnectionString    string
	ACSSMSConnectionString string
	SMSFromNumber          string

	// Realtime model service
	RealtimeEndpoint   string
	RealtimeAPIKey     string
	RealtimeDeployment string
	RealtimeVoice      string

	// Knowledge base search
	SearchEndpoint string
	SearchAPIKey   string

	// Call state store backend: Redis when set, in-memory otherwise
	RedisURL string

	// Call records (optional, disabled when MONGO_URI is empty)
	MongoURI string
	DBName   string

	ProviderTimeoutMs int

	LogLevel           string
	CORSAllowedOrigins string

	OTELEndpoint string
	OTELEnabled  bool
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is fine; production supplies real environment variables.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		TZ:      getEnv("TZ", "UTC"),

		CallbackHost: mustGetEnv("CALLBACK_URI_HOST"),

		ACSConnectionString:    mustGetEnv("ACS_CONNECTION_STRING"),
		ACSSMSConnectionString: getEnv("ACS_SMS_CONNECTION_STRING", ""),
		SMSFromNumber:          getEnv("ACS_SMS_FROM_PHONE_NUMBER", ""),

		RealtimeEndpoint:   mustGetEnv("AZURE_OPENAI_REALTIME_ENDPOINT"),
		RealtimeAPIKey:     mustGetEnv("AZURE_OPENAI_REALTIME_SERVICE_KEY"),
		RealtimeDeployment: getEnv("AZURE_OPENAI_REALTIME_DEPLOYMENT_MODEL_NAME", "gpt-4o-realtime-preview"),
		RealtimeVoice:      getEnv("REALTIME_VOICE", "alloy"),

		SearchEndpoint: getEnv("SEARCH_ENDPOINT", ""),
		SearchAPIKey:   getEnv("SEARCH_API_KEY", ""),

		RedisURL: getEnv("AZURE_REDIS_CONNECTION_STRING", ""),

		MongoURI: getEnv("MONGO_URI", ""),
		DBName:   getEnv("DB_NAME", "voice_orchestrator"),

		ProviderTimeoutMs: getEnvInt("PROVIDER_TIMEOUT_MS", 30000),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
