package config

import (
	"os"
	"strconv"
	"strings"
)

type R2 struct {
	AccountID     string
	AccessKey     string
	SecretKey     string
	BucketName    string
	PublicBaseURL string
}

type Config struct {
	PostgresURI   string
	ListenAddr    string
	SecretKey     string
	CookieName    string
	AdminPassword string

	MetaAccessToken    string
	InstagramAccountID string
	GraphAPIVersion    string

	PublicImageBaseURL string
	GeneratorBaseURL   string
	R2                 R2

	Timezone string

	SchedulerPollSeconds     int
	SchedulerGraceSeconds    int
	StaleProcessingHours     int
	DuplicateTopicWindowDays int
	RateWindowHours          int
	RatePublishLimit         int
	AutoSyncIntervalMinutes  int
	AutoSyncLimit            int
	ReconcileLookbackHours   int
	ReconcilePageLimit       int

	// Comma-separated Graph API error codes/subcodes treated as transient.
	TransientErrorCodes    string
	TransientErrorSubcodes string
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI:   getEnv("POSTGRES_URI", ""),
		ListenAddr:    getEnv("LISTEN_ADDR", ":3000"),
		SecretKey:     getEnv("SECRET_KEY", ""),
		CookieName:    getEnv("COOKIE_NAME", "igflow_session"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		MetaAccessToken:    getEnv("META_ACCESS_TOKEN", ""),
		InstagramAccountID: getEnv("INSTAGRAM_ACCOUNT_ID", ""),
		GraphAPIVersion:    getEnv("GRAPH_API_VERSION", "v25.0"),

		PublicImageBaseURL: getEnv("PUBLIC_IMAGE_BASE_URL", ""),
		GeneratorBaseURL:   getEnv("GENERATOR_BASE_URL", ""),
		R2: R2{
			AccountID:     getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:     getEnv("R2_ACCESS_KEY", ""),
			SecretKey:     getEnv("R2_SECRET_KEY", ""),
			BucketName:    getEnv("R2_BUCKET_NAME", ""),
			PublicBaseURL: getEnv("R2_PUBLIC_BASE_URL", ""),
		},

		Timezone: getEnv("TIMEZONE", "Europe/Madrid"),

		SchedulerPollSeconds:     getEnvInt("SCHEDULER_POLL_SECONDS", 60),
		SchedulerGraceSeconds:    getEnvInt("SCHEDULER_GRACE_SECONDS", 5),
		StaleProcessingHours:     getEnvInt("STALE_PROCESSING_HOURS", 2),
		DuplicateTopicWindowDays: getEnvInt("DUPLICATE_TOPIC_WINDOW_DAYS", 90),
		RateWindowHours:          getEnvInt("RATE_WINDOW_HOURS", 24),
		RatePublishLimit:         getEnvInt("META_PUBLISH_DAILY_LIMIT", 25),
		AutoSyncIntervalMinutes:  getEnvInt("AUTO_IG_SYNC_INTERVAL_MINUTES", 30),
		AutoSyncLimit:            getEnvInt("AUTO_IG_SYNC_LIMIT", 40),
		ReconcileLookbackHours:   getEnvInt("RECONCILE_LOOKBACK_HOURS", 72),
		ReconcilePageLimit:       getEnvInt("RECONCILE_PAGE_LIMIT", 40),

		TransientErrorCodes:    getEnv("META_TRANSIENT_CODES", "1,2,4,17,32,613"),
		TransientErrorSubcodes: getEnv("META_TRANSIENT_SUBCODES", "2207051,2207085"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
