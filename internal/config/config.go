package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CRMGW_SERVER_ADDR.
const EnvPrefix = "CRMGW"

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	JWKSURL     string `mapstructure:"jwks_url"`
	HMACSecret  string `mapstructure:"hmac_secret"`
	Issuer      string `mapstructure:"issuer"`
	ServerURL   string `mapstructure:"server_url"`
	SignInPath  string `mapstructure:"sign_in_path"`
	LandingPath string `mapstructure:"landing_path"`
}

type EmailConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type ActivityConfig struct {
	DBPath  string `mapstructure:"db_path"`
	NATSURL string `mapstructure:"nats_url"`
}

// Config is the gateway configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Email    EmailConfig    `mapstructure:"email"`
	Rate     RateConfig     `mapstructure:"rate"`
	Activity ActivityConfig `mapstructure:"activity"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.server_url", "")
	v.SetDefault("auth.sign_in_path", "/sign-in")
	v.SetDefault("auth.landing_path", "/dashboard")
	v.SetDefault("email.timeout", 30*time.Second)
	v.SetDefault("rate.rps", 5.0)
	v.SetDefault("rate.burst", 20)
	v.SetDefault("activity.db_path", "data/activity.db")
	v.SetDefault("activity.nats_url", "")
}

// Load reads configuration from path, if given, and from CRMGW_*
// environment variables. A named file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("one of auth.jwks_url or auth.hmac_secret is required")
	}
	if !strings.HasPrefix(c.Auth.SignInPath, "/") || !strings.HasPrefix(c.Auth.LandingPath, "/") {
		return fmt.Errorf("auth.sign_in_path and auth.landing_path must be absolute paths")
	}
	if c.Email.Timeout <= 0 {
		return fmt.Errorf("email.timeout must be positive")
	}
	if c.Rate.RPS <= 0 || c.Rate.Burst < 1 {
		return fmt.Errorf("rate.rps must be positive and rate.burst at least 1")
	}
	if c.Activity.DBPath == "" {
		return fmt.Errorf("activity.db_path is required")
	}
	return nil
}
