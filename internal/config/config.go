// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Job board OAuth
	JobBoardClientID     string
	JobBoardClientSecret string
	JobBoardRedirectURL  string `validate:"url"`
	JobBoardAuthURL      string `validate:"url"`
	JobBoardTokenURL     string `validate:"url"`
	JobBoardAPIURL       string `validate:"url"`

	// Resume parser
	ResumeParserURL string `validate:"url"`

	// Feed import
	FeedAllowedHosts []string `validate:"min=1,dive,hostname"`

	// Handshake / Token
	HandshakeTTL      time.Duration `validate:"gt=0"`
	TokenExpiryMargin time.Duration `validate:"gte=0"`
	ResourceTimeout   time.Duration `validate:"gt=0"`
	LockIdleTTL       time.Duration `validate:"gt=0"`

	// Documents / Sessions
	ParseTimeout  time.Duration `validate:"gt=0"`
	SessionTTL    time.Duration `validate:"gte=0"`
	UploadMaxSize int64         `validate:"gt=0"`
	FetchMaxSize  int64         `validate:"gt=0"`

	// Rate Limit (req/min)
	RateLimitGeneral int `validate:"gt=0"`
	RateLimitUpload  int `validate:"gt=0"`

	// Cleanup
	StateRetention  time.Duration `validate:"gte=0"`
	CleanupInterval time.Duration `validate:"gt=0"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`

	// Server
	ServerPort string
	BaseURL    string `validate:"url"`

	// CORS
	CORSAllowedOrigin string
}

var validate = validator.New()

// LoadDotEnv はpathsの.envファイル（省略時は./.env）を環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.JobBoardClientID = required("JOBBOARD_CLIENT_ID")
	cfg.JobBoardClientSecret = required("JOBBOARD_CLIENT_SECRET")
	cfg.JobBoardRedirectURL = required("JOBBOARD_REDIRECT_URL")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.JobBoardAuthURL = getEnvString("JOBBOARD_AUTH_URL", "https://hh.ru/oauth/authorize")
	cfg.JobBoardTokenURL = getEnvString("JOBBOARD_TOKEN_URL", "https://api.hh.ru/oauth/token")
	cfg.JobBoardAPIURL = getEnvString("JOBBOARD_API_URL", "https://api.hh.ru")
	cfg.ResumeParserURL = getEnvString("RESUME_PARSER_URL", "http://localhost:8090/parse")
	cfg.FeedAllowedHosts = getEnvList("FEED_ALLOWED_HOSTS", []string{"hh.ru"})
	cfg.HandshakeTTL = time.Duration(getEnvInt("HANDSHAKE_TTL_SECONDS", 600)) * time.Second
	cfg.TokenExpiryMargin = time.Duration(getEnvInt("TOKEN_EXPIRY_MARGIN_SECONDS", 60)) * time.Second
	cfg.ResourceTimeout = getEnvDuration("RESOURCE_TIMEOUT", 10*time.Second)
	cfg.LockIdleTTL = getEnvDuration("LOCK_IDLE_TTL", 10*time.Minute)
	cfg.ParseTimeout = getEnvDuration("PARSE_TIMEOUT", 2*time.Minute)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.UploadMaxSize = getEnvInt64("UPLOAD_MAX_SIZE", 10485760)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 20)
	cfg.StateRetention = getEnvDuration("STATE_RETENTION", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
