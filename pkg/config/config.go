package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Identity     IdentityConfig
	RateLimit    RateLimitConfig
	Quota        QuotaConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	OpenAI       OpenAIConfig
	Webhook      WebhookConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PODGEN_APP_ENV" required:"true"`
	Port         string `envconfig:"PODGEN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PODGEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PODGEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PODGEN_DB_DSN"`
	Driver string `envconfig:"PODGEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PODGEN_DB_HOST"`
	LegacyPort     int    `envconfig:"PODGEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PODGEN_DB_USER"`
	LegacyPassword string `envconfig:"PODGEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"PODGEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"PODGEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PODGEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PODGEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PODGEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PODGEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PODGEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PODGEN_REDIS_ADDR"`
	Password     string        `envconfig:"PODGEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"PODGEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PODGEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PODGEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PODGEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PODGEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PODGEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// IdentityConfig describes how the externally issued identity token is
// verified. The identity provider signs a JWT carrying the subject id, email,
// and an email_verified claim; the API trusts those claims once the signature
// checks out.
type IdentityConfig struct {
	Secret string `envconfig:"PODGEN_IDENTITY_SECRET" required:"true"`
	Issuer string `envconfig:"PODGEN_IDENTITY_ISSUER"`
}

// RateLimitConfig holds the per-action fixed-window policy table. Adding an
// action is a config change, not a code change.
type RateLimitConfig struct {
	GenerateAudioRate       int64         `envconfig:"PODGEN_RATE_LIMIT_GENERATE_AUDIO_RATE" default:"3"`
	GenerateAudioWindow     time.Duration `envconfig:"PODGEN_RATE_LIMIT_GENERATE_AUDIO_WINDOW" default:"2m"`
	GenerateThumbnailRate   int64         `envconfig:"PODGEN_RATE_LIMIT_GENERATE_THUMBNAIL_RATE" default:"3"`
	GenerateThumbnailWindow time.Duration `envconfig:"PODGEN_RATE_LIMIT_GENERATE_THUMBNAIL_WINDOW" default:"2m"`
	CreatePodcastRate       int64         `envconfig:"PODGEN_RATE_LIMIT_CREATE_PODCAST_RATE" default:"3"`
	CreatePodcastWindow     time.Duration `envconfig:"PODGEN_RATE_LIMIT_CREATE_PODCAST_WINDOW" default:"2m"`
	UploadFileRate          int64         `envconfig:"PODGEN_RATE_LIMIT_UPLOAD_FILE_RATE" default:"3"`
	UploadFileWindow        time.Duration `envconfig:"PODGEN_RATE_LIMIT_UPLOAD_FILE_WINDOW" default:"2m"`
	IncrementViewsRate      int64         `envconfig:"PODGEN_RATE_LIMIT_INCREMENT_VIEWS_RATE" default:"1"`
	IncrementViewsWindow    time.Duration `envconfig:"PODGEN_RATE_LIMIT_INCREMENT_VIEWS_WINDOW" default:"2m"`
}

type QuotaConfig struct {
	FreePodcastLimit       int    `envconfig:"PODGEN_QUOTA_FREE_PODCAST_LIMIT" default:"5"`
	ProPodcastLimit        int    `envconfig:"PODGEN_QUOTA_PRO_PODCAST_LIMIT" default:"30"`
	EnterprisePodcastLimit int    `envconfig:"PODGEN_QUOTA_ENTERPRISE_PODCAST_LIMIT" default:"100"`
	FreeThumbnails         int    `envconfig:"PODGEN_QUOTA_FREE_THUMBNAILS" default:"3"`
	DefaultVoice           string `envconfig:"PODGEN_QUOTA_DEFAULT_VOICE" default:"alloy"`
}

type StripeConfig struct {
	APIKey                  string `envconfig:"PODGEN_STRIPE_API_KEY"`
	Secret                  string `envconfig:"PODGEN_STRIPE_WEBHOOK_SECRET"`
	Env                     string `envconfig:"PODGEN_STRIPE_ENV" default:"test"`
	PriceIDPro              string `envconfig:"PODGEN_STRIPE_PRICE_ID_PRO"`
	PriceIDEnterprise       string `envconfig:"PODGEN_STRIPE_PRICE_ID_ENTERPRISE"`
	PriceIDProAnnual        string `envconfig:"PODGEN_STRIPE_PRICE_ID_PRO_ANNUAL"`
	PriceIDEnterpriseAnnual string `envconfig:"PODGEN_STRIPE_PRICE_ID_ENTERPRISE_ANNUAL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	Domain      string `envconfig:"PODGEN_CHECKOUT_DOMAIN" default:"http://localhost:3000"`
	SuccessPath string `envconfig:"PODGEN_CHECKOUT_SUCCESS_PATH" default:"/plans?session_id={CHECKOUT_SESSION_ID}"`
	CancelPath  string `envconfig:"PODGEN_CHECKOUT_CANCEL_PATH" default:"/"`
	PortalPath  string `envconfig:"PODGEN_CHECKOUT_PORTAL_RETURN_PATH" default:"/plans"`
}

// SuccessURL joins the configured domain and success path.
func (c CheckoutConfig) SuccessURL() string {
	return strings.TrimRight(c.Domain, "/") + c.SuccessPath
}

// CancelURL joins the configured domain and cancel path.
func (c CheckoutConfig) CancelURL() string {
	return strings.TrimRight(c.Domain, "/") + c.CancelPath
}

// PortalReturnURL joins the configured domain and billing-portal return path.
func (c CheckoutConfig) PortalReturnURL() string {
	return strings.TrimRight(c.Domain, "/") + c.PortalPath
}

type OpenAIConfig struct {
	APIKey  string        `envconfig:"PODGEN_OPENAI_API_KEY"`
	Timeout time.Duration `envconfig:"PODGEN_OPENAI_TIMEOUT" default:"60s"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PODGEN_WEBHOOK_IDEMPOTENCY_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PODGEN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PODGEN_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
