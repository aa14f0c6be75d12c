package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/clinic/billdesk/internal/domain/billing"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	APIBaseURL         string        `mapstructure:"API_BASE_URL"`
	APIToken           string        `mapstructure:"API_TOKEN"`
	APITimeout         time.Duration `mapstructure:"API_TIMEOUT"`
	ReconcileDelay     time.Duration `mapstructure:"RECONCILE_DELAY"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	DefaultServiceRate string        `mapstructure:"DEFAULT_SERVICE_RATE"`
	ClinicName         string        `mapstructure:"CLINIC_NAME"`
	ClinicAddress      string        `mapstructure:"CLINIC_ADDRESS"`
	ClinicRegistration string        `mapstructure:"CLINIC_REGISTRATION"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"API_BASE_URL", "API_TOKEN", "API_TIMEOUT", "RECONCILE_DELAY",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "DEFAULT_SERVICE_RATE",
	"CLINIC_NAME", "CLINIC_ADDRESS", "CLINIC_REGISTRATION",
}

// Load reads the configuration from the environment. Variables in envFile
// are loaded first without overriding anything already set; a missing file
// is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_TIMEOUT", "15s")
	v.SetDefault("RECONCILE_DELAY", billing.DefaultReconcileDelay.String())
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "256K")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("DEFAULT_SERVICE_RATE", "500")
	v.SetDefault("CLINIC_NAME", "Clinic")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	cfg.CORSOrigins = nil
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level returns the zerolog level for LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Clinic returns the letterhead printed on invoices and receipts.
func (c *Config) Clinic() billing.Clinic {
	return billing.Clinic{
		Name:         c.ClinicName,
		Address:      c.ClinicAddress,
		Registration: c.ClinicRegistration,
	}
}

// Validate checks that the configuration is usable. The billing API base URL
// is required and must be absolute; durations must be positive.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive, got %s", c.APITimeout)
	}
	if c.ReconcileDelay <= 0 {
		return fmt.Errorf("RECONCILE_DELAY must be positive, got %s", c.ReconcileDelay)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.RequestTimeout <= c.APITimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must exceed API_TIMEOUT (%s)", c.RequestTimeout, c.APITimeout)
	}
	if d := billing.ParseAmount(c.DefaultServiceRate); d.IsNegative() {
		return fmt.Errorf("DEFAULT_SERVICE_RATE must not be negative, got %q", c.DefaultServiceRate)
	}
	return nil
}
