package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	cfg.Wallet.PrivateKey = "0xabc123"
	return cfg
}

func TestValidateAcceptsFilledDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"missing contract", func(c *Config) { c.Chain.ContractAddress = "" }, "contract_address"},
		{"missing wallet", func(c *Config) { c.Wallet.PrivateKey = "" }, "wallet"},
		{"encrypted key without password", func(c *Config) {
			c.Wallet.PrivateKey = ""
			c.Wallet.EncryptedKeyPath = "/keys/op.json"
		}, "key_password"},
		{"missing flow contract", func(c *Config) { c.Storage.FlowContract = "" }, "flow_contract"},
		{"threshold out of range", func(c *Config) { c.Resolver.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"bad sweep interval", func(c *Config) { c.Tracker.SweepInterval = duration{} }, "sweep_interval"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"telegram half-configured", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadTOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
mode = "sweep"

[chain]
contract_address = "0x2222222222222222222222222222222222222222"

[wallet]
private_key = "0xdeadbeef"

[tracker]
sweep_interval = "30s"
`
	if err := os.WriteFile(path, []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MARKETD_SERVER_PORT", "4000")
	t.Setenv("MARKETD_RESOLVER_CONFIDENCE_THRESHOLD", "0.9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "sweep" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Tracker.SweepInterval.Duration != 30*time.Second {
		t.Errorf("sweep interval = %v", cfg.Tracker.SweepInterval.Duration)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want env override 4000", cfg.Server.Port)
	}
	if cfg.Resolver.ConfidenceThreshold != 0.9 {
		t.Errorf("threshold = %v", cfg.Resolver.ConfidenceThreshold)
	}
	// Untouched fields keep their defaults.
	if cfg.Storage.PollAttempts != 120 {
		t.Errorf("poll attempts = %d", cfg.Storage.PollAttempts)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Compute.APIKey = "sk-secret"
	cfg.Redis.Password = "hunter2"

	red := RedactedConfig(&cfg)
	if red.Compute.APIKey != "***" || red.Redis.Password != "***" || red.Wallet.PrivateKey != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	// Original must be untouched.
	if cfg.Compute.APIKey != "sk-secret" {
		t.Fatal("RedactedConfig mutated the source config")
	}
	// Empty secrets stay empty rather than becoming "***".
	if red.NPC.Bettor1Key != "" {
		t.Fatalf("empty secret became %q", red.NPC.Bettor1Key)
	}
}
