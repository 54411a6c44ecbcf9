// Package config loads service configuration from the environment with an
// optional YAML override file for raffle economics.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Auth       AuthConfig
	Scheduler  SchedulerConfig
	Randomness RandomnessConfig
	Raffle     RaffleConfig
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`

	// RateLimit is requests per second per client, with Burst headroom.
	RateLimit float64 `env:"SERVER_RATE_LIMIT,default=25"`
	Burst     int     `env:"SERVER_RATE_BURST,default=50"`
}

type DatabaseConfig struct {
	// Driver selects the store backing: "memory" or "postgres".
	Driver string `env:"DB_DRIVER,default=memory"`
	DSN    string `env:"DB_DSN,default="`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=30m"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

type AuthConfig struct {
	JWTSecret string        `env:"AUTH_JWT_SECRET,default="`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL,default=12h"`

	// Owner is the platform owner address; Admins are additional operator
	// addresses, comma separated.
	Owner  string   `env:"AUTH_OWNER,default="`
	Admins []string `env:"AUTH_ADMINS,default="`
}

type SchedulerConfig struct {
	Enabled bool   `env:"SCHEDULER_ENABLED,default=true"`
	Spec    string `env:"SCHEDULER_SPEC,default=@every 30s"`
}

type RandomnessConfig struct {
	// DevSource enables the local entropy fulfiller standing in for an
	// external beacon.
	DevSource    bool          `env:"RANDOMNESS_DEV_SOURCE,default=true"`
	PollInterval time.Duration `env:"RANDOMNESS_POLL_INTERVAL,default=2s"`
}

// RaffleConfig carries the economics knobs: allocation basis points, claim
// windows and platform wallets. A YAML override file may replace any of
// them.
type RaffleConfig struct {
	TreasuryWallet   string `env:"RAFFLE_TREASURY_WALLET,default=" yaml:"treasury_wallet"`
	CharityWallet    string `env:"RAFFLE_CHARITY_WALLET,default=" yaml:"charity_wallet"`
	ExpenseWallet    string `env:"RAFFLE_EXPENSE_WALLET,default=" yaml:"expense_wallet"`
	ServiceFeeWallet string `env:"RAFFLE_SERVICE_FEE_WALLET,default=" yaml:"service_fee_wallet"`

	WinnerBP      int64 `env:"RAFFLE_WINNER_BP,default=5000" yaml:"winner_bp"`
	CharityBP     int64 `env:"RAFFLE_CHARITY_BP,default=100" yaml:"charity_bp"`
	LuckyRefundBP int64 `env:"RAFFLE_LUCKY_REFUND_BP,default=200" yaml:"lucky_refund_bp"`
	TreasuryBP    int64 `env:"RAFFLE_TREASURY_BP,default=700" yaml:"treasury_bp"`
	MaxMarginBP   int64 `env:"RAFFLE_MAX_MARGIN_BP,default=3000" yaml:"max_margin_bp"`
	ServiceFeeBP  int64 `env:"RAFFLE_SERVICE_FEE_BP,default=50" yaml:"service_fee_bp"`

	ClaimRewardDuration      time.Duration `env:"RAFFLE_CLAIM_REWARD_DURATION,default=168h" yaml:"claim_reward_duration"`
	ClaimRefundDuration      time.Duration `env:"RAFFLE_CLAIM_REFUND_DURATION,default=720h" yaml:"claim_refund_duration"`
	ClaimLuckyRefundDuration time.Duration `env:"RAFFLE_CLAIM_LUCKY_REFUND_DURATION,default=720h" yaml:"claim_lucky_refund_duration"`

	MaxRerollAttempts int `env:"RAFFLE_MAX_REROLL_ATTEMPTS,default=3" yaml:"max_reroll_attempts"`
}

// Load reads .env if present, decodes the environment, and applies the YAML
// override file named by RAFFLE_CONFIG_FILE when set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("RAFFLE_CONFIG_FILE"); path != "" {
		if err := cfg.Raffle.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *RaffleConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read raffle config: %w", err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return fmt.Errorf("parse raffle config: %w", err)
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Driver != "memory" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("postgres driver requires DB_DSN")
	}
	for name, bp := range map[string]int64{
		"winner_bp":       c.Raffle.WinnerBP,
		"charity_bp":      c.Raffle.CharityBP,
		"lucky_refund_bp": c.Raffle.LuckyRefundBP,
		"treasury_bp":     c.Raffle.TreasuryBP,
		"max_margin_bp":   c.Raffle.MaxMarginBP,
		"service_fee_bp":  c.Raffle.ServiceFeeBP,
	} {
		if bp < 0 || bp > 10000 {
			return fmt.Errorf("%s out of range: %d", name, bp)
		}
	}
	if c.Raffle.MaxRerollAttempts < 1 {
		return fmt.Errorf("max_reroll_attempts must be at least 1")
	}
	return nil
}

// Addr is the server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
