package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

// Scheduler holds the timing knobs for the background pipeline. The design
// assumes a single running scheduler instance; the conditional claim in the
// job repository is the only cross-process guard.
type Scheduler struct {
	PollInterval   time.Duration
	PublishTimeout time.Duration
	MaxJobFanout   int
}

type Config struct {
	FacebookAppID      string
	FacebookAppSecret  string
	InstagramAppSecret string
	LinkedinClientID   string
	TiktokClientKey    string
	TiktokClientSecret string
	TwitterBearerToken string
	GoogleClientID     string
	GoogleClientSecret string
	PostgresURI        string
	RedisURI           string
	GenerationURL      string
	GenerationAPIKey   string
	InternalAPIKey     string
	DefaultCreditGrant float64
	R2                 R2
	Scheduler          Scheduler
	SecretKey          string
	CookieName         string
}

func LoadConfig() *Config {
	return &Config{
		FacebookAppID:      getEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:  getEnv("FACEBOOK_APP_SECRET", ""),
		InstagramAppSecret: getEnv("INSTAGRAM_APP_SECRET", ""),
		LinkedinClientID:   getEnv("LINKEDIN_CLIENT_ID", ""),
		TiktokClientKey:    getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret: getEnv("TIKTOK_CLIENT_SECRET", ""),
		TwitterBearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", ""),
		GenerationURL:      getEnv("GENERATION_URL", ""),
		GenerationAPIKey:   getEnv("GENERATION_API_KEY", ""),
		InternalAPIKey:     getEnv("INTERNAL_API_KEY", ""),
		DefaultCreditGrant: getEnvFloat("DEFAULT_CREDIT_GRANT", 100),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		Scheduler: Scheduler{
			PollInterval:   getEnvDuration("SCHEDULER_POLL_INTERVAL", 60*time.Second),
			PublishTimeout: getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second),
			MaxJobFanout:   getEnvInt("SCHEDULER_MAX_FANOUT", 5),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
