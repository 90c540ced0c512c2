package config

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/sethvargo/go-envconfig"
)

// Config is the full process configuration, loaded from the
// environment and validated eagerly at startup. Missing required
// values are a fatal startup error, never a lazy runtime surprise.
type Config struct {
	Env      string `env:"APP_ENV, default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Cookie   CookieConfig
	Email    EmailConfig
}

type ServerConfig struct {
	Listen          string        `env:"HTTP_LISTEN, default=:8080"`
	CORSOrigins     string        `env:"HTTP_CORS_ORIGINS, default=*"`
	RateLimitMax    int           `env:"HTTP_RATE_LIMIT_MAX, default=120"`
	RateLimitWindow time.Duration `env:"HTTP_RATE_LIMIT_WINDOW, default=1m"`
	TrustProxy      bool          `env:"HTTP_TRUST_PROXY, default=false"`
}

type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER, default=postgres"`
	DSN    string `env:"DB_DSN"`
	Debug  bool   `env:"DB_DEBUG, default=false"`
}

type JWTConfig struct {
	SigningKey string        `env:"JWT_SIGNING_KEY"`
	Issuer     string        `env:"JWT_ISSUER, default=botprompts"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL, default=15m"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL, default=720h"`
}

type AuthConfig struct {
	GuestRoleName   string        `env:"AUTH_GUEST_ROLE, default=guest"`
	BcryptCost      int           `env:"AUTH_BCRYPT_COST, default=12"`
	VerificationTTL time.Duration `env:"AUTH_VERIFICATION_TTL, default=48h"`
	ResetTTL        time.Duration `env:"AUTH_RESET_TTL, default=2h"`
	OpaqueLength    int           `env:"AUTH_TOKEN_LENGTH, default=64"`
}

type CookieConfig struct {
	Name     string `env:"REFRESH_COOKIE_NAME, default=botprompts_refresh"`
	Domain   string `env:"REFRESH_COOKIE_DOMAIN"`
	Path     string `env:"REFRESH_COOKIE_PATH, default=/api/v1/auth"`
	Secure   bool   `env:"REFRESH_COOKIE_SECURE, default=true"`
	SameSite string `env:"REFRESH_COOKIE_SAMESITE, default=Strict"`
}

// EmailConfig covers the outbound transport. Mode "disabled" logs
// instead of sending, which is the development default.
type EmailConfig struct {
	Mode      string `env:"EMAIL_MODE, default=disabled"`
	Region    string `env:"EMAIL_AWS_REGION, default=us-east-1"`
	Sender    string `env:"EMAIL_SENDER"`
	AccessKey string `env:"EMAIL_AWS_ACCESS_KEY_ID"`
	SecretKey string `env:"EMAIL_AWS_SECRET_ACCESS_KEY"`
	SiteName  string `env:"EMAIL_SITE_NAME, default=Bot Prompts"`
	SiteURL   string `env:"EMAIL_SITE_URL, default=http://localhost:8080"`
}

// Load reads the configuration from the environment and validates it
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Env, validation.Required, validation.In("development", "staging", "production")),
		validation.Field(&c.Server),
		validation.Field(&c.Database),
		validation.Field(&c.JWT),
		validation.Field(&c.Auth),
		validation.Field(&c.Cookie),
		validation.Field(&c.Email),
	)
}

func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.RateLimitMax, validation.Min(1)),
	)
}

func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In("postgres", "sqlite")),
		validation.Field(&c.DSN, validation.Required),
	)
}

func (c JWTConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Issuer, validation.Required),
	)
}

func (c AuthConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.GuestRoleName, validation.Required),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.OpaqueLength, validation.Min(32)),
	)
}

func (c CookieConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.SameSite, validation.In("Strict", "Lax", "None")),
	)
}

func (c EmailConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In("disabled", "ses")),
	)
	if err != nil {
		return err
	}
	if c.Mode == "ses" {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Sender, validation.Required),
			validation.Field(&c.Region, validation.Required),
		)
	}
	return nil
}
