// Package config defines the top-level configuration for the marketd engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETD_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	NPC      NPCConfig      `toml:"npc"`
	Storage  StorageConfig  `toml:"storage"`
	Compute  ComputeConfig  `toml:"compute"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Resolver ResolverConfig `toml:"resolver"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the EVM endpoint and market contract parameters.
type ChainConfig struct {
	RPCURL          string `toml:"rpc_url"`
	ChainID         int64  `toml:"chain_id"`
	ContractAddress string `toml:"contract_address"`
}

// WalletConfig holds the operator signing key. Either a raw hex key or a
// path to an encrypted key file (see internal/crypto) must be provided.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// NPCConfig holds the optional counterparty bettor identities that seed each
// new market with one YES and one NO bet.
type NPCConfig struct {
	Bettor1Key   string `toml:"bettor1_key"`
	Bettor2Key   string `toml:"bettor2_key"`
	BetAmountWei string `toml:"bet_amount_wei"`
}

// StorageConfig holds storage-network endpoints and polling budgets.
type StorageConfig struct {
	FlowContract string   `toml:"flow_contract"`
	IndexerURL   string   `toml:"indexer_url"`
	NodeURLs     []string `toml:"node_urls"` // fixed preference order; overrides discovery when set
	PollAttempts int      `toml:"poll_attempts"`
	PollInterval duration `toml:"poll_interval"`
}

// ComputeConfig holds the reasoning-oracle endpoint (an OpenAI-compatible
// chat completions API).
type ComputeConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// MonitorConfig holds the live-condition monitor endpoint and the publicly
// reachable base URL its webhooks should call back to.
type MonitorConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	WebhookBaseURL string `toml:"webhook_base_url"`
}

// ResolverConfig holds resolution-pipeline parameters.
type ResolverConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// PersistGated anchors evidence even when the confidence gate rejects
	// the verdict, for audit.
	PersistGated bool `toml:"persist_gated"`
}

// TrackerConfig holds settlement-tracker parameters.
type TrackerConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters for the settlement
// audit store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the durable job store,
// market cache, and signal bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the S3-compatible endpoint for off-network evidence
// archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // empty disables auth
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "60s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "60s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:  "https://evmrpc-testnet.0g.ai",
			ChainID: 16602,
		},
		NPC: NPCConfig{
			BetAmountWei: "5000000000000000",
		},
		Storage: StorageConfig{
			FlowContract: "0x22E03a6A89B950F1c82ec5e74F8eCa321a105296",
			IndexerURL:   "https://indexer-storage-testnet-turbo.0g.ai",
			PollAttempts: 120,
			PollInterval: duration{time.Second},
		},
		Compute: ComputeConfig{
			BaseURL: "https://chat-api.0g.ai/v1",
			Model:   "deepseek-chat",
		},
		Resolver: ResolverConfig{
			ConfidenceThreshold: 0.7,
			PersistGated:        true,
		},
		Tracker: TrackerConfig{
			SweepInterval: duration{60 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-evidence",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        3000,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "error"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sweep": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sweep)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must be set")
	}
	if c.Chain.ContractAddress == "" {
		errs = append(errs, "chain: contract_address must be set")
	}

	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Storage.FlowContract == "" {
		errs = append(errs, "storage: flow_contract must be set")
	}
	if c.Storage.IndexerURL == "" && len(c.Storage.NodeURLs) == 0 {
		errs = append(errs, "storage: indexer_url or node_urls must be set")
	}
	if c.Storage.PollAttempts <= 0 {
		errs = append(errs, "storage: poll_attempts must be positive")
	}
	if c.Storage.PollInterval.Duration <= 0 {
		errs = append(errs, "storage: poll_interval must be positive")
	}

	if c.Resolver.ConfidenceThreshold < 0 || c.Resolver.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("resolver: confidence_threshold %v outside [0,1]", c.Resolver.ConfidenceThreshold))
	}
	if c.Tracker.SweepInterval.Duration <= 0 {
		errs = append(errs, "tracker: sweep_interval must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
