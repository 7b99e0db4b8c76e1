package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("addr = %s, want :8080", cfg.Addr)
	}
	if cfg.StartGrace != 3*time.Minute {
		t.Errorf("start grace = %v, want 3m", cfg.StartGrace)
	}
	if cfg.CommandDelayDefault != 5000 || cfg.CommandDelayMin != 1500 {
		t.Errorf("delay bounds = %d/%d, want 5000/1500", cfg.CommandDelayDefault, cfg.CommandDelayMin)
	}
	if cfg.TurnCommandCountMin != 3 || cfg.TurnCommandCountMax != 6 {
		t.Errorf("turn bounds = %d/%d, want 3/6", cfg.TurnCommandCountMin, cfg.TurnCommandCountMax)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CREWDASH_ADDR", ":9999")
	t.Setenv("CREWDASH_START_GRACE", "90s")
	t.Setenv("CREWDASH_COMMAND_DELAY_MIN_MS", "1000")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("addr = %s, want :9999", cfg.Addr)
	}
	if cfg.StartGrace != 90*time.Second {
		t.Errorf("start grace = %v, want 90s", cfg.StartGrace)
	}
	if cfg.CommandDelayMin != 1000 {
		t.Errorf("delay min = %d, want 1000", cfg.CommandDelayMin)
	}
}

func TestLoadRejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"delay default below min", "CREWDASH_COMMAND_DELAY_DEFAULT_MS", "100"},
		{"zero turn minimum", "CREWDASH_TURN_COMMANDS_MIN", "0"},
		{"turn max below min", "CREWDASH_TURN_COMMANDS_MAX", "1"},
		{"negative decay", "CREWDASH_DELAY_DECAY_COEFF", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}
