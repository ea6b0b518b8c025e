package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	JWTExpiresIn         time.Duration `mapstructure:"JWT_EXPIRES_IN"`
	BcryptRounds         int           `mapstructure:"BCRYPT_ROUNDS"`
	FrontendURL          string        `mapstructure:"FRONTEND_URL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitWindowMS    int           `mapstructure:"RATE_LIMIT_WINDOW_MS"`
	RateLimitMaxRequests int           `mapstructure:"RATE_LIMIT_MAX_REQUESTS"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`

	NHSSSOEntryPoint  string `mapstructure:"NHS_SSO_ENTRY_POINT"`
	NHSSSOCallbackURL string `mapstructure:"NHS_SSO_CALLBACK_URL"`
	NHSSSOCert        string `mapstructure:"NHS_SSO_CERT"`
	NHSSSOMetadataURL string `mapstructure:"NHS_SSO_METADATA_URL"`
	NHSSSOIssuer      string `mapstructure:"NHS_SSO_ISSUER"`
	NHSSSOIDPEntityID string `mapstructure:"NHS_SSO_IDP_ENTITY_ID"`
	NHSSSOSPCertFile  string `mapstructure:"NHS_SSO_SP_CERT_FILE"`
	NHSSSOSPKeyFile   string `mapstructure:"NHS_SSO_SP_KEY_FILE"`

	AlertsBackend     string   `mapstructure:"ALERTS_BACKEND"`
	AlertsKafkaBroker []string `mapstructure:"ALERTS_KAFKA_BROKERS"`
	AlertsKafkaTopic  string   `mapstructure:"ALERTS_KAFKA_TOPIC"`
	AlertsSQSQueueURL string   `mapstructure:"ALERTS_SQS_QUEUE_URL"`
}

// devJWTSecret is only accepted when ENV=development.
const devJWTSecret = "development-only-jwt-secret"

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "JWT_EXPIRES_IN", "BCRYPT_ROUNDS", "FRONTEND_URL", "CORS_ORIGINS",
	"RATE_LIMIT_WINDOW_MS", "RATE_LIMIT_MAX_REQUESTS", "BODY_LIMIT",
	"NHS_SSO_ENTRY_POINT", "NHS_SSO_CALLBACK_URL", "NHS_SSO_CERT", "NHS_SSO_METADATA_URL",
	"NHS_SSO_ISSUER", "NHS_SSO_IDP_ENTITY_ID", "NHS_SSO_SP_CERT_FILE", "NHS_SSO_SP_KEY_FILE",
	"ALERTS_BACKEND", "ALERTS_KAFKA_BROKERS", "ALERTS_KAFKA_TOPIC", "ALERTS_SQS_QUEUE_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("JWT_EXPIRES_IN", "24h")
	v.SetDefault("BCRYPT_ROUNDS", 10)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3002")
	v.SetDefault("RATE_LIMIT_WINDOW_MS", 15*60*1000)
	v.SetDefault("RATE_LIMIT_MAX_REQUESTS", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("NHS_SSO_ISSUER", "eproms-system")
	v.SetDefault("ALERTS_BACKEND", "log")
	v.SetDefault("ALERTS_KAFKA_TOPIC", "proms.side-effects.urgent")

	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.AlertsKafkaBroker = splitList(cfg.AlertsKafkaBroker, v.GetString("ALERTS_KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.IsDev() {
		log.Println("WARNING: JWT_SECRET is not set; using the built-in development secret.")
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
}

// splitList re-splits comma-separated env values and trims each entry.
func splitList(current []string, raw string) []string {
	if raw == "" {
		return current
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SSOEnabled reports whether enough NHS SSO settings are present to build
// the SAML service provider.
func (c *Config) SSOEnabled() bool {
	if c.NHSSSOCallbackURL == "" {
		return false
	}
	return c.NHSSSOMetadataURL != "" || (c.NHSSSOCert != "" && c.NHSSSOEntryPoint != "")
}

// RateLimitWindow returns the configured rate limit window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if !c.IsDev() && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must not use the development default outside development")
	}
	if c.JWTExpiresIn <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be a positive duration")
	}
	if c.BcryptRounds < 4 || c.BcryptRounds > 31 {
		return fmt.Errorf("BCRYPT_ROUNDS must be between 4 and 31, got %d", c.BcryptRounds)
	}

	switch c.AlertsBackend {
	case "", "log":
	case "kafka":
		if len(c.AlertsKafkaBroker) == 0 {
			return fmt.Errorf("ALERTS_KAFKA_BROKERS is required when ALERTS_BACKEND is \"kafka\"")
		}
	case "sqs":
		if c.AlertsSQSQueueURL == "" {
			return fmt.Errorf("ALERTS_SQS_QUEUE_URL is required when ALERTS_BACKEND is \"sqs\"")
		}
	default:
		return fmt.Errorf("ALERTS_BACKEND must be \"log\", \"kafka\" or \"sqs\", got %q", c.AlertsBackend)
	}

	if c.NHSSSOSPCertFile != "" && c.NHSSSOSPKeyFile == "" {
		return fmt.Errorf("NHS_SSO_SP_KEY_FILE is required when NHS_SSO_SP_CERT_FILE is set")
	}

	return nil
}
