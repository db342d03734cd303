// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/digitalcoffee/internal/security"
)

// Config はサーバーとワーカーの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth（サーバー側Googleログイン）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`

	Identity Identity `envPrefix:"IDENTITY_"`

	// PKCE
	PKCETTL        time.Duration `env:"PKCE_TTL" envDefault:"10m"`
	PKCEMaxPending int           `env:"PKCE_MAX_PENDING" envDefault:"10000"`

	// Rate Limit（req/min/user）
	RateLimitGeneral      int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSessionStart int `env:"RATE_LIMIT_SESSION_START" envDefault:"30"`

	SMTP            SMTP `envPrefix:"SMTP_"`
	NotifyQueueSize int  `env:"NOTIFY_QUEUE_SIZE" envDefault:"100"`

	// Cleanup
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"168h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Logging
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie（BASE_URLがhttpsの場合にSecure属性を付ける）
	CookieSecure bool `env:"-"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:19006"`

	// CatalogPath はトラックカタログの差し替えファイル。空の場合は埋め込みを使う。
	CatalogPath string `env:"CATALOG_PATH"`
}

// Identity はIdentity Toolkitの接続設定。
type Identity struct {
	ProjectID string        `env:"PROJECT_ID,required,notEmpty"`
	APIKey    string        `env:"API_KEY,required,notEmpty"`
	BaseURL   string        `env:"BASE_URL" envDefault:"https://identitytoolkit.googleapis.com"`
	CertsURL  string        `env:"CERTS_URL" envDefault:"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// SMTP はメール送信の設定。Hostが空の場合はメールを送信しない。
type SMTP struct {
	Host        string        `env:"HOST"`
	Port        int           `env:"PORT" envDefault:"587"`
	Username    string        `env:"USER"`
	Password    string        `env:"PASS"`
	FromAddress string        `env:"FROM_EMAIL"`
	FromName    string        `env:"FROM_NAME" envDefault:"Digital Coffee"`
	Secure      bool          `env:"SECURE" envDefault:"false"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Enabled はSMTPが設定されているかを返す。
func (s SMTP) Enabled() bool {
	return s.Host != ""
}

// ClientConfig はCLIの認証系コマンドが使う設定。
// データベースやSMTPは不要。
type ClientConfig struct {
	Identity Identity `envPrefix:"IDENTITY_"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"warn"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := validateIdentity(cfg.Identity); err != nil {
		return nil, err
	}
	if cfg.SMTP.Enabled() && cfg.SMTP.FromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM_EMAIL is required when SMTP_HOST is set")
	}
	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitSessionStart <= 0 {
		return nil, fmt.Errorf("rate limits must be positive")
	}
	if cfg.PKCETTL <= 0 || cfg.PKCEMaxPending <= 0 {
		return nil, fmt.Errorf("PKCE_TTL and PKCE_MAX_PENDING must be positive")
	}
	if cfg.SessionRetention <= 0 || cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_RETENTION and CLEANUP_INTERVAL must be positive")
	}

	return cfg, nil
}

// LoadClient は環境変数からClientConfigを読み込む。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validateIdentity(cfg.Identity); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateIdentity は外部エンドポイントが安全な宛先かを検証する。
func validateIdentity(id Identity) error {
	guard := security.NewOutboundGuard()
	if err := guard.ValidateEndpoint(id.BaseURL); err != nil {
		return fmt.Errorf("IDENTITY_BASE_URL: %w", err)
	}
	if err := guard.ValidateEndpoint(id.CertsURL); err != nil {
		return fmt.Errorf("IDENTITY_CERTS_URL: %w", err)
	}
	if id.Timeout <= 0 {
		return fmt.Errorf("IDENTITY_TIMEOUT must be positive")
	}
	return nil
}
