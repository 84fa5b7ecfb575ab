package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName       = "Misskey"
	defaultAppEnv        = "development"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultInstanceURL   = "http://localhost:8080"
	defaultShutdownDelay = 10 * time.Second

	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Captcha holds per-provider verification settings. A provider is only
// consulted when it is enabled and every field it needs is present.
type Captcha struct {
	EnableHcaptcha bool
	HcaptchaSecret string

	EnableMcaptcha      bool
	McaptchaSecret      string
	McaptchaSitekey     string
	McaptchaInstanceURL string

	EnableRecaptcha bool
	RecaptchaSecret string

	EnableTurnstile bool
	TurnstileSecret string
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName     string
	AppEnv      string
	Port        string
	LogLevel    string
	InstanceURL string
	DatabaseURL string
	RedisURL    string

	ShutdownPeriod time.Duration

	// ApprovalRequired gates signin for accounts an admin has not yet approved.
	ApprovalRequired bool
	// TestMode disables captcha verification entirely.
	TestMode bool

	Captcha Captcha
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		InstanceURL:    getEnv("INSTANCE_URL", defaultInstanceURL),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	var err error
	if cfg.ApprovalRequired, err = getBool("APPROVAL_REQUIRED", false); err != nil {
		return Config{}, err
	}
	if cfg.TestMode, err = getBool("TEST_MODE", false); err != nil {
		return Config{}, err
	}

	if err := loadCaptcha(&cfg.Captcha); err != nil {
		return Config{}, err
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

func loadCaptcha(c *Captcha) error {
	var err error
	if c.EnableHcaptcha, err = getBool("ENABLE_HCAPTCHA", false); err != nil {
		return err
	}
	c.HcaptchaSecret = os.Getenv("HCAPTCHA_SECRET")

	if c.EnableMcaptcha, err = getBool("ENABLE_MCAPTCHA", false); err != nil {
		return err
	}
	c.McaptchaSecret = os.Getenv("MCAPTCHA_SECRET")
	c.McaptchaSitekey = os.Getenv("MCAPTCHA_SITEKEY")
	c.McaptchaInstanceURL = os.Getenv("MCAPTCHA_INSTANCE_URL")

	if c.EnableRecaptcha, err = getBool("ENABLE_RECAPTCHA", false); err != nil {
		return err
	}
	c.RecaptchaSecret = os.Getenv("RECAPTCHA_SECRET")

	if c.EnableTurnstile, err = getBool("ENABLE_TURNSTILE", false); err != nil {
		return err
	}
	c.TurnstileSecret = os.Getenv("TURNSTILE_SECRET")

	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the instance runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
