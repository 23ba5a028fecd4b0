package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once from the environment (and .env when present).
type Config struct {
	HTTPAddr      string
	StaticDir     string
	CORSOrigins   []string
	HTTPAccessLog bool
	CookieSecure  bool
	MaxUploadMB   int64

	LogFile   string
	LogLevel  string
	LogStdout bool

	// DataBackend selects the document store: "postgres", "firestore" or "memory".
	DataBackend        string
	FirestoreProjectID string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	SessionTTL     time.Duration
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	FlowIdleTTL    time.Duration

	SMSGatewayURL string
	SMSAPIKey     string
	SMSSender     string

	CaptchaVerifyURL string
	CaptchaSecret    string
	CaptchaSiteKey   string

	BlobDir     string
	BlobBaseURL string

	NATSURL string

	InitialAdminPassword string
	FeedJoinCache        bool

	// Timezone is the IANA zone used for calendar-day filters and export dates.
	Timezone string
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// Load reads the configuration once and returns the shared value.
func Load() *Config {
	cfgOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found – relying on env vars")
		}
		cfg = fromEnv()
	})
	return cfg
}

func fromEnv() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		StaticDir:     getEnv("STATIC_DIR", "./web/dist"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "")),
		HTTPAccessLog: getEnvBool("HTTP_ACCESS_LOG", false),
		CookieSecure:  getEnvBool("COOKIE_SECURE", false),
		MaxUploadMB:   int64(getEnvInt("MAX_UPLOAD_MB", 10)),

		LogFile:   getEnv("LOG_FILE", "./logs/app.log"),
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogStdout: getEnvBool("LOG_STDOUT", true),

		DataBackend:        strings.ToLower(getEnv("DATA_BACKEND", "postgres")),
		FirestoreProjectID: getEnv("FIRESTORE_PROJECT_ID", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:      getEnv("JWT_SECRET", "supersecret"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 12*time.Hour),
		CodeTTL:        getEnvDuration("CODE_TTL", 5*time.Minute),
		ResendCooldown: getEnvDuration("RESEND_COOLDOWN", 30*time.Second),
		FlowIdleTTL:    getEnvDuration("LOGIN_FLOW_IDLE_TTL", 15*time.Minute),

		SMSGatewayURL: getEnv("SMS_GATEWAY_URL", ""),
		SMSAPIKey:     getEnv("SMS_API_KEY", ""),
		SMSSender:     getEnv("SMS_SENDER", "GARDIAN"),

		CaptchaVerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		CaptchaSecret:    getEnv("CAPTCHA_SECRET", ""),
		CaptchaSiteKey:   getEnv("CAPTCHA_SITE_KEY", ""),

		BlobDir:     getEnv("BLOB_DIR", "./uploads"),
		BlobBaseURL: getEnv("BLOB_BASE_URL", "/uploads"),

		NATSURL: getEnv("NATS_URL", ""),

		InitialAdminPassword: getEnv("INITIAL_ADMIN_PASSWORD", "TemporaryPassword123!"),
		FeedJoinCache:        getEnvBool("FEED_JOIN_CACHE", true),

		Timezone: getEnv("REPORT_TIMEZONE", "Asia/Manila"),
	}
}

// Location resolves Timezone, falling back to UTC when the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("unknown REPORT_TIMEZONE %q, using UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

// getEnv reads an environment variable or returns the provided default
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
