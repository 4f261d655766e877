package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Plate     PlateConfig     `mapstructure:"plate"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Session   SessionConfig   `mapstructure:"session"`
	Slots     SlotsConfig     `mapstructure:"slots"`
	Fees      FeesConfig      `mapstructure:"fees"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Cameras   []CameraConfig  `mapstructure:"cameras"`
	LogLevel  string          `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres or memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type PlateConfig struct {
	Format        string  `mapstructure:"format"`         // "loose" or "strict_in"
	MinConfidence float64 `mapstructure:"min_confidence"` // candidates below this are dropped
	MinLength     int     `mapstructure:"min_length"`
}

type ConsensusConfig struct {
	Window       int           `mapstructure:"window"`        // sliding window size per plate
	MinAgreement int           `mapstructure:"min_agreement"` // reads that must agree within a full window
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`      // evict windows not updated for this long
}

type SessionConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"` // debounce for repeated entry/exit confirmations
}

type SlotsConfig struct {
	GrantDelay  time.Duration       `mapstructure:"grant_delay"`  // dwell before a slot is mapped
	RevokeDelay time.Duration       `mapstructure:"revoke_delay"` // absence before a mapped slot is cleared
	Polygons    map[string][]Vertex `mapstructure:"polygons"`
}

type Vertex struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
}

type FeesConfig struct {
	RatePerHour int64  `mapstructure:"rate_per_hour"`
	FreeMinutes int    `mapstructure:"free_minutes"`
	Currency    string `mapstructure:"currency"`
}

type PaymentConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	KeyID        string        `mapstructure:"key_id"`
	KeySecret    string        `mapstructure:"key_secret"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollWindow   time.Duration `mapstructure:"poll_window"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type KafkaConfig struct {
	BootstrapServers string `mapstructure:"bootstrap_servers"` // empty disables publishing
	Topic            string `mapstructure:"topic"`
}

type CameraConfig struct {
	ID   string `mapstructure:"id"`
	Role string `mapstructure:"role"` // entrance, exit or section
}

// Camera looks up a registered camera by id. Returns nil when the
// registry is empty or the id is unknown.
func (c *Config) Camera(id string) *CameraConfig {
	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			return &c.Cameras[i]
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/parking")
	}

	v.SetEnvPrefix("PARKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("plate.format", "loose")
	v.SetDefault("plate.min_confidence", 0.4)
	v.SetDefault("plate.min_length", 6)

	v.SetDefault("consensus.window", 5)
	v.SetDefault("consensus.min_agreement", 3)
	v.SetDefault("consensus.idle_ttl", 30*time.Second)

	v.SetDefault("session.cooldown", 10*time.Second)

	v.SetDefault("slots.grant_delay", 10*time.Second)
	v.SetDefault("slots.revoke_delay", 10*time.Second)

	v.SetDefault("fees.rate_per_hour", 20)
	v.SetDefault("fees.free_minutes", 0)
	v.SetDefault("fees.currency", "INR")

	v.SetDefault("payment.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("payment.poll_interval", 2*time.Second)
	v.SetDefault("payment.poll_window", 60*time.Second)
	v.SetDefault("payment.max_retries", 3)
}

func (c *Config) validate() error {
	if c.Consensus.Window < 1 {
		return fmt.Errorf("consensus.window must be at least 1")
	}
	if c.Consensus.MinAgreement < 1 || c.Consensus.MinAgreement > c.Consensus.Window {
		return fmt.Errorf("consensus.min_agreement must be within [1, window]")
	}
	if c.Fees.RatePerHour < 0 {
		return fmt.Errorf("fees.rate_per_hour cannot be negative")
	}
	switch c.Plate.Format {
	case "loose", "strict_in":
	default:
		return fmt.Errorf("plate.format must be loose or strict_in, got %q", c.Plate.Format)
	}
	for _, cam := range c.Cameras {
		switch cam.Role {
		case "entrance", "exit", "section":
		default:
			return fmt.Errorf("camera %s: role must be entrance, exit or section, got %q", cam.ID, cam.Role)
		}
	}
	return nil
}
