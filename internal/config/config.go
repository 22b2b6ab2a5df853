package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minBcryptCost はパスワードハッシュに許容する最小のワークファクタ。
const minBcryptCost = 10

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（空の場合はOAuth stateをメモリに保持する）
	RedisURL string

	// Token
	JWTSecret      string
	JWTExpiresIn   time.Duration
	JWTIssuer      string
	OneTimeCodeTTL time.Duration
	BcryptCost     int

	// Auth policy
	GuardRejectInactive  bool
	AllowUnverifiedLogin bool

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	OAuthStateTTL      time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Image URL（trueの場合、登録時にHEADリクエストで画像であることを確認する）
	ImageURLProbe   bool
	ImageURLTimeout time.Duration

	// Rate Limit（req/min）
	RateLimitAuth    int
	RateLimitGeneral int

	// Worker
	CodeCleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	require := func(key string, dst *string) {
		*dst = os.Getenv(key)
		if *dst == "" {
			missing = append(missing, key)
		}
	}

	require("DATABASE_URL", &cfg.DatabaseURL)
	require("JWT_SECRET", &cfg.JWTSecret)
	require("GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	require("GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	require("GOOGLE_REDIRECT_URL", &cfg.GoogleRedirectURL)
	require("BASE_URL", &cfg.BaseURL)

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.JWTExpiresIn = getEnvDuration("JWT_EXPIRES_IN", 15*time.Minute)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "afrivac")
	cfg.OneTimeCodeTTL = getEnvDuration("ONE_TIME_CODE_TTL", 10*time.Minute)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", minBcryptCost)
	if cfg.BcryptCost < minBcryptCost {
		cfg.BcryptCost = minBcryptCost
	}
	cfg.GuardRejectInactive = getEnvBool("GUARD_REJECT_INACTIVE", true)
	cfg.AllowUnverifiedLogin = getEnvBool("ALLOW_UNVERIFIED_LOGIN", false)
	cfg.OAuthStateTTL = getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvString("SMTP_PORT", "587")
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "Afrivac <no-reply@afrivac.example>")
	cfg.ImageURLProbe = getEnvBool("IMAGE_URL_PROBE", false)
	cfg.ImageURLTimeout = getEnvDuration("IMAGE_URL_TIMEOUT", 5*time.Second)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CodeCleanupInterval = getEnvDuration("CODE_CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// MailEnabled はSMTP送信に必要な設定が揃っているかを返す。
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration はtime.ParseDurationの書式に加えて "7d" のような日数指定も受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return defaultVal
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
