// Package config loads the process configuration from environment variables.
// Every option has a default suited to local development with mockup
// gateways, so `kioskd serve` runs without any environment at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable, e.g.
// KIOSK_HTTP_LISTEN or KIOSK_PAYMENT_MOCKUP_MODE.
const EnvPrefix = "KIOSK"

// Config is the full process configuration.
type Config struct {
	KioskID  string         `mapstructure:"kiosk_id"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Bus      BusConfig      `mapstructure:"bus"`
	Fiscal   GatewayConfig  `mapstructure:"fiscal"`
	Payment  GatewayConfig  `mapstructure:"payment"`
	Printer  GatewayConfig  `mapstructure:"printer"`
	KDS      GatewayConfig  `mapstructure:"kds"`
}

// HTTPConfig configures the kiosk-facing HTTP server.
type HTTPConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SSEPingInterval time.Duration `mapstructure:"sse_ping_interval"`
}

// DatabaseConfig selects the storage backend. Driver is "sqlite" or
// "postgres"; DSN follows the driver's conventions.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BusConfig configures the in-process event bus.
type BusConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// GatewayConfig configures one external gateway adapter. When MockupMode is
// true the HTTP fields are ignored and the mockup variant is constructed
// instead, driven by SuccessProbability and MockupDelay.
type GatewayConfig struct {
	MockupMode     bool          `mapstructure:"mockup_mode"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SSL            bool          `mapstructure:"ssl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	MerchantID     string        `mapstructure:"merchant_id"`
	TerminalID     string        `mapstructure:"terminal_id"`
	ReceiptsFolder string        `mapstructure:"receipts_folder"`

	SuccessProbability float64       `mapstructure:"success_probability"`
	MockupDelay        time.Duration `mapstructure:"mockup_delay"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// AutomaticEnv alone does not surface env vars to Unmarshal; BindEnv
	// each known key explicitly.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kiosk_id", "KIOSK-01")

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "0s") // SSE streams must not be cut off
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.sse_ping_interval", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "kiosk.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("bus.queue_size", 100)

	gatewayDefaults(v, "fiscal", "30s")
	gatewayDefaults(v, "payment", "180s")
	gatewayDefaults(v, "printer", "60s")
	gatewayDefaults(v, "kds", "20s")

	v.SetDefault("payment.merchant_id", "MERCHANT-01")
	v.SetDefault("payment.terminal_id", "TERM-01")
	v.SetDefault("printer.receipts_folder", "receipts")
}

func gatewayDefaults(v *viper.Viper, name, timeout string) {
	v.SetDefault(name+".mockup_mode", true)
	v.SetDefault(name+".base_url", "")
	v.SetDefault(name+".timeout", timeout)
	v.SetDefault(name+".ssl", false)
	v.SetDefault(name+".max_retries", 0)
	v.SetDefault(name+".merchant_id", "")
	v.SetDefault(name+".terminal_id", "")
	v.SetDefault(name+".receipts_folder", "")
	v.SetDefault(name+".success_probability", 1.0)
	v.SetDefault(name+".mockup_delay", "100ms")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	for name, gw := range map[string]GatewayConfig{
		"fiscal":  c.Fiscal,
		"payment": c.Payment,
		"printer": c.Printer,
		"kds":     c.KDS,
	} {
		if !gw.MockupMode && gw.BaseURL == "" {
			return fmt.Errorf("%s gateway: base_url required when mockup_mode is off", name)
		}
		if gw.Timeout <= 0 {
			return fmt.Errorf("%s gateway: timeout must be positive", name)
		}
		if gw.SuccessProbability < 0 || gw.SuccessProbability > 1 {
			return fmt.Errorf("%s gateway: success_probability must be within [0,1]", name)
		}
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus queue_size must be positive")
	}
	return nil
}
