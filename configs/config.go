package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	Endpoint   string
}

type Storage struct {
	Driver         string // local, r2
	LocalRoot      string
	PublicBaseURL  string
	CandidateRoots []string
	TmpPrefix      string
	TmpTTL         time.Duration
	R2             R2
}

type Facebook struct {
	GraphURL    string
	PageID      string
	AccessToken string
}

type Instagram struct {
	GraphURL          string
	BusinessAccountID string
	AccessToken       string
	ClientSecret      string
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

type Telegram struct {
	APIURL   string
	BotToken string
	ChatID   string
}

type YouTube struct {
	ClientID      string
	ClientSecret  string
	Endpoint      string
	PrivacyStatus string
	CategoryID    string
	// UploadTimeout bounds one video upload, body included.
	UploadTimeout time.Duration
}

type Publisher struct {
	Concurrency            int
	HTTPTimeout            time.Duration
	TransportAttempts      int
	TransportDelay         time.Duration
	ExpiryThresholdMinutes int
	// StaleAfter is how long a record may sit in publishing before the
	// sweep fails it. Keep it above the longest upload.
	StaleAfter time.Duration
}

type Scheduler struct {
	Enabled     bool
	SweepSpec   string
	RefreshSpec string
	JanitorSpec string
}

type Webhook struct {
	Enabled bool
	URL     string
	Secret  string
	Timeout time.Duration
}

type Nats struct {
	URL     string
	Subject string
}

type Log struct {
	Level  string
	Format string
	File   string
}

type Config struct {
	Addr        string
	PostgresURI string
	RedisURI    string
	Storage     Storage
	Facebook    Facebook
	Instagram   Instagram
	Telegram    Telegram
	YouTube     YouTube
	Publisher   Publisher
	Scheduler   Scheduler
	Webhook     Webhook
	Nats        Nats
	Log         Log
	SecretKey   string
	CookieName  string
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:        getEnv("HTTP_ADDR", ":3000"),
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", "localhost:6379"),
		Storage: Storage{
			Driver:         getEnv("STORAGE_DRIVER", "local"),
			LocalRoot:      getEnv("STORAGE_LOCAL_ROOT", "storage/app"),
			PublicBaseURL:  strings.TrimRight(getEnv("STORAGE_PUBLIC_URL", "http://localhost:3000/media"), "/"),
			CandidateRoots: getEnvList("STORAGE_CANDIDATE_ROOTS", []string{"private", "public", ""}),
			TmpPrefix:      getEnv("STORAGE_TMP_PREFIX", "tmp"),
			TmpTTL:         getEnvDuration("STORAGE_TMP_TTL", 24*time.Hour),
			R2: R2{
				AccountID:  getEnv("R2_ACCOUNT_ID", ""),
				AccessKey:  getEnv("R2_ACCESS_KEY", ""),
				SecretKey:  getEnv("R2_SECRET_KEY", ""),
				BucketName: getEnv("R2_BUCKET_NAME", ""),
				Endpoint:   getEnv("R2_ENDPOINT", ""),
			},
		},
		Facebook: Facebook{
			GraphURL:    getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v23.0"),
			PageID:      getEnv("FACEBOOK_PAGE_ID", ""),
			AccessToken: getEnv("FACEBOOK_PAGE_ACCESS_TOKEN", ""),
		},
		Instagram: Instagram{
			GraphURL:          getEnv("INSTAGRAM_GRAPH_URL", "https://graph.facebook.com/v23.0"),
			BusinessAccountID: getEnv("INSTAGRAM_BUSINESS_ACCOUNT_ID", ""),
			AccessToken:       getEnv("INSTAGRAM_ACCESS_TOKEN", ""),
			ClientSecret:      getEnv("INSTAGRAM_CLIENT_SECRET", ""),
			PollInterval:      getEnvDuration("INSTAGRAM_POLL_INTERVAL", 2*time.Second),
			PollTimeout:       getEnvDuration("INSTAGRAM_POLL_TIMEOUT", 60*time.Second),
		},
		Telegram: Telegram{
			APIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		},
		YouTube: YouTube{
			ClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
			Endpoint:      getEnv("YOUTUBE_ENDPOINT", ""),
			PrivacyStatus: getEnv("YOUTUBE_PRIVACY_STATUS", "public"),
			CategoryID:    getEnv("YOUTUBE_CATEGORY_ID", "22"),
			UploadTimeout: getEnvDuration("YOUTUBE_UPLOAD_TIMEOUT", time.Hour),
		},
		Publisher: Publisher{
			Concurrency:            getEnvInt("PUBLISH_CONCURRENCY", 4),
			HTTPTimeout:            getEnvDuration("PUBLISH_HTTP_TIMEOUT", 30*time.Second),
			TransportAttempts:      getEnvInt("PUBLISH_TRANSPORT_ATTEMPTS", 3),
			TransportDelay:         getEnvDuration("PUBLISH_TRANSPORT_DELAY", time.Second),
			ExpiryThresholdMinutes: getEnvInt("TOKEN_EXPIRY_THRESHOLD_MINUTES", 60),
			StaleAfter:             getEnvDuration("PUBLISH_STALE_AFTER", 2*time.Hour),
		},
		Scheduler: Scheduler{
			Enabled:     getEnvBool("SCHEDULER_ENABLED", true),
			SweepSpec:   getEnv("SCHEDULER_SWEEP_SPEC", "@every 1m"),
			RefreshSpec: getEnv("SCHEDULER_REFRESH_SPEC", "@every 00h10m00s"),
			JanitorSpec: getEnv("SCHEDULER_JANITOR_SPEC", "@every 1h"),
		},
		Webhook: Webhook{
			Enabled: getEnvBool("WEBHOOK_ENABLED", false),
			URL:     getEnv("WEBHOOK_URL", ""),
			Secret:  getEnv("WEBHOOK_SECRET", ""),
			Timeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Nats: Nats{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "publication.updated"),
		},
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			File:   getEnv("LOG_FILE", ""),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "crosspost_session"),
	}
}

// Validate reports configuration that would make the server unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.PostgresURI == "" {
		errs = append(errs, errors.New("POSTGRES_URI is required"))
	}
	switch len(c.SecretKey) {
	case 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("SECRET_KEY must be 16, 24 or 32 bytes, got %d", len(c.SecretKey)))
	}
	switch c.Storage.Driver {
	case "local":
	case "r2":
		if c.Storage.R2.BucketName == "" {
			errs = append(errs, errors.New("R2_BUCKET_NAME is required for the r2 storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	if c.Publisher.Concurrency < 1 {
		errs = append(errs, errors.New("PUBLISH_CONCURRENCY must be positive"))
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		errs = append(errs, errors.New("WEBHOOK_URL is required when the webhook is enabled"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated value. Empty items are kept so that
// "private,public," can name the storage root itself.
func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), "/")
	}
	return parts
}
