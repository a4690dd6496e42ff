// Package config loads relay server and CLI settings from flags and LOTO_* env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "LOTO"

var validate = validator.New()

// Server configures the relay server
type Server struct {
	Addr        string        `mapstructure:"addr" validate:"required"`
	RedisURI    string        `mapstructure:"redis-uri"`
	JWTSecret   string        `mapstructure:"jwt-secret" validate:"omitempty,min=16"`
	LeaseGrace  time.Duration `mapstructure:"lease-grace" validate:"gt=0"`
	PublicURL   string        `mapstructure:"public-url" validate:"required,url"`
	CORSOrigins string        `mapstructure:"cors-origins"`
	Debug       bool          `mapstructure:"debug"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServer reads LOTO_* env vars over the defaults
func LoadServer() (*Server, error) {
	v := newViper()
	v.SetDefault("addr", ":8080")
	v.SetDefault("redis-uri", "")
	v.SetDefault("jwt-secret", "")
	v.SetDefault("lease-grace", 30*time.Second)
	v.SetDefault("public-url", "http://localhost:8080/join")
	v.SetDefault("cors-origins", "*")
	v.SetDefault("debug", false)

	cfg := &Server{
		Addr:        v.GetString("addr"),
		RedisURI:    v.GetString("redis-uri"),
		JWTSecret:   v.GetString("jwt-secret"),
		LeaseGrace:  v.GetDuration("lease-grace"),
		PublicURL:   v.GetString("public-url"),
		CORSOrigins: v.GetString("cors-origins"),
		Debug:       v.GetBool("debug"),
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// Client configures the loto CLI
type Client struct {
	RelayURL       string
	SessionDir     string
	RedisURI       string
	Name           string
	AutoDraw       time.Duration
	AutoMark       bool
	HealthInterval time.Duration
	Verbose        bool
}

// Validate checks values that flags alone cannot
func (c *Client) Validate() error {
	if err := validate.Var(c.RelayURL, "required,url"); err != nil {
		return fmt.Errorf("invalid --relay-url %q", c.RelayURL)
	}
	if c.AutoDraw < 0 {
		return fmt.Errorf("invalid --auto-draw (must not be negative): %s", c.AutoDraw)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("invalid --health-interval (must be positive): %s", c.HealthInterval)
	}
	return nil
}

func defaultSessionDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "loto")
	}
	return "."
}

// BindClientFlags registers the CLI flags on fs and fills unset ones from LOTO_* env vars
func BindClientFlags(fs *pflag.FlagSet, cfg *Client) {
	v := newViper()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.RelayURL, "relay-url", "ws://localhost:8080/v1/peers", "relay websocket endpoint (env: LOTO_RELAY_URL)")
	fs.StringVar(&cfg.SessionDir, "session-dir", defaultSessionDir(), "directory for the saved session (env: LOTO_SESSION_DIR)")
	fs.StringVar(&cfg.RedisURI, "redis-uri", "", "store the saved session in redis instead of a file (env: LOTO_REDIS_URI)")
	fs.StringVarP(&cfg.Name, "name", "n", "", "display name (env: LOTO_NAME)")
	fs.DurationVar(&cfg.AutoDraw, "auto-draw", 0, "draw automatically at this interval, 0 to disable (env: LOTO_AUTO_DRAW)")
	fs.BoolVar(&cfg.AutoMark, "auto-mark", true, "mark called numbers on your sheet automatically (env: LOTO_AUTO_MARK)")
	fs.DurationVar(&cfg.HealthInterval, "health-interval", 15*time.Second, "how often to check the host link (env: LOTO_HEALTH_INTERVAL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: LOTO_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// NewLogger returns a development logger when verbose or LOTO_DEBUG is set
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose || newViper().GetBool("debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
