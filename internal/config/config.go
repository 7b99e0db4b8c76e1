package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all process-level configuration, loaded from the
// environment (optionally seeded from a .env file).
type Config struct {
	Addr    string `env:"CREWDASH_ADDR" envDefault:":8080"`
	BaseURL string `env:"CREWDASH_BASE_URL" envDefault:"http://localhost:8080"`
	Debug   bool   `env:"CREWDASH_DEBUG"`

	// Grace period between session creation and a required start().
	StartGrace time.Duration `env:"CREWDASH_START_GRACE" envDefault:"3m"`
	// Grace period after end() before the session is purged.
	DeleteGrace time.Duration `env:"CREWDASH_DELETE_GRACE" envDefault:"5m"`

	// Command delay window bounds, in milliseconds.
	CommandDelayDefault int64 `env:"CREWDASH_COMMAND_DELAY_DEFAULT_MS" envDefault:"5000"`
	CommandDelayMin     int64 `env:"CREWDASH_COMMAND_DELAY_MIN_MS" envDefault:"1500"`

	// Bounds for the random number of commands per competitive turn.
	TurnCommandCountMin int `env:"CREWDASH_TURN_COMMANDS_MIN" envDefault:"3"`
	TurnCommandCountMax int `env:"CREWDASH_TURN_COMMANDS_MAX" envDefault:"6"`

	// Milliseconds shaved off the command delay per command at
	// difficulty 1.0; scaled by each session's difficulty.
	DelayDecayCoeff float64 `env:"CREWDASH_DELAY_DECAY_COEFF" envDefault:"100"`
}

// Load reads configuration from the environment. A missing .env file
// is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CommandDelayMin <= 0 || c.CommandDelayDefault < c.CommandDelayMin {
		return fmt.Errorf("command delay bounds invalid: min=%d default=%d", c.CommandDelayMin, c.CommandDelayDefault)
	}
	if c.TurnCommandCountMin < 1 || c.TurnCommandCountMax < c.TurnCommandCountMin {
		return fmt.Errorf("turn command bounds invalid: min=%d max=%d", c.TurnCommandCountMin, c.TurnCommandCountMax)
	}
	if c.DelayDecayCoeff < 0 {
		return fmt.Errorf("delay decay coefficient must be non-negative, got %v", c.DelayDecayCoeff)
	}
	return nil
}
