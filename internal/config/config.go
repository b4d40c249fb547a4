package config

import (
	"fmt"
	"strings"
	"time"

	"monerosync/internal/loadbalancer"
	"monerosync/internal/monero"
	"monerosync/internal/retry"

	"github.com/spf13/viper"
)

// Environment keys
const (
	Network          = "NETWORK"
	NodeURLs         = "NODE_URLS"
	NodeUsername     = "NODE_USERNAME"
	NodePassword     = "NODE_PASSWORD"
	LoadBalancerRule = "LOAD_BALANCER_RULE"
	DatabaseURL      = "DATABASE_URL"
	APIPort          = "API_PORT"
	LogLevel         = "LOG_LEVEL"
	WalletID         = "WALLET_ID"
	WalletAddresses  = "WALLET_ADDRESSES"
	SkipCoinbase     = "SKIP_COINBASE"

	RefreshIntervalSec  = "REFRESH_INTERVAL_SEC"
	NodePollIntervalSec = "NODE_POLL_INTERVAL_SEC"
	BatchSize           = "BATCH_SIZE"
	PipeCapacity        = "PIPE_CAPACITY"

	BackoffMinMs      = "BACKOFF_MIN_MS"
	BackoffMaxMs      = "BACKOFF_MAX_MS"
	BackoffMultiplier = "BACKOFF_MULTIPLIER"
	BackoffJitter     = "BACKOFF_JITTER"

	RetryEnabled         = "RETRY_ENABLED"
	RetryMaxRetries      = "RETRY_MAX_RETRIES"
	RetryInitialDelaySec = "RETRY_INITIAL_DELAY_SEC"
	RetryMaxDelaySec     = "RETRY_MAX_DELAY_SEC"
)

var defaults = map[string]any{
	Network:          "mainnet",
	LoadBalancerRule: "round_robin",
	APIPort:          "8080",
	LogLevel:         "info",
	WalletID:         "default",

	RefreshIntervalSec:  60,
	NodePollIntervalSec: 30,
	BatchSize:           0,
	PipeCapacity:        64 << 10,

	BackoffMinMs:      1000,
	BackoffMaxMs:      20000,
	BackoffMultiplier: 1.6,
	BackoffJitter:     0.2,

	RetryEnabled:         true,
	RetryMaxRetries:      10,
	RetryInitialDelaySec: 1,
	RetryMaxDelaySec:     60,
}

type Config struct {
	// Monero network ( mainnet, testnet or stagenet )
	Network monero.Network

	// Static remote nodes, used when no database node list is configured
	NodeURLs     []string
	NodeUsername string
	NodePassword string

	// Node selection rule ( first or round_robin )
	LoadBalancerRule string

	// PostgreSQL connection string ( empty runs without persistence )
	DatabaseURL string

	APIPort  string
	LogLevel string

	// Wallet identity and its "account/subaddress/address" list
	WalletID        string
	WalletAddresses []string
	SkipCoinbase    bool

	RefreshInterval  time.Duration
	NodePollInterval time.Duration

	// Records per listener chunk ( 0 means derived from the message size )
	BatchSize int

	// Bytes buffered between the node and the reader of a response
	PipeCapacity int

	Backoff retry.BackoffConfig
	Retry   retry.Config
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	network, err := monero.ParseNetwork(v.GetString(Network))
	if err != nil {
		return nil, err
	}

	return &Config{
		Network:          network,
		NodeURLs:         splitList(v.GetString(NodeURLs)),
		NodeUsername:     v.GetString(NodeUsername),
		NodePassword:     v.GetString(NodePassword),
		LoadBalancerRule: v.GetString(LoadBalancerRule),
		DatabaseURL:      v.GetString(DatabaseURL),
		APIPort:          v.GetString(APIPort),
		LogLevel:         strings.ToLower(v.GetString(LogLevel)),
		WalletID:         v.GetString(WalletID),
		WalletAddresses:  splitList(v.GetString(WalletAddresses)),
		SkipCoinbase:     v.GetBool(SkipCoinbase),
		RefreshInterval:  time.Duration(v.GetInt(RefreshIntervalSec)) * time.Second,
		NodePollInterval: time.Duration(v.GetInt(NodePollIntervalSec)) * time.Second,
		BatchSize:        v.GetInt(BatchSize),
		PipeCapacity:     v.GetInt(PipeCapacity),
		Backoff: retry.BackoffConfig{
			MinBackoff: time.Duration(v.GetInt(BackoffMinMs)) * time.Millisecond,
			MaxBackoff: time.Duration(v.GetInt(BackoffMaxMs)) * time.Millisecond,
			Multiplier: v.GetFloat64(BackoffMultiplier),
			Jitter:     v.GetFloat64(BackoffJitter),
		},
		Retry: retry.Config{
			Enabled:      v.GetBool(RetryEnabled),
			MaxRetries:   v.GetInt(RetryMaxRetries),
			InitialDelay: time.Duration(v.GetInt(RetryInitialDelaySec)) * time.Second,
			MaxDelay:     time.Duration(v.GetInt(RetryMaxDelaySec)) * time.Second,
		},
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.WalletID == "" {
		return fmt.Errorf("%s is required", WalletID)
	}
	if len(c.WalletAddresses) == 0 {
		return fmt.Errorf("%s is required", WalletAddresses)
	}
	if c.DatabaseURL == "" && len(c.NodeURLs) == 0 {
		return fmt.Errorf("%s is required when %s is not set", NodeURLs, DatabaseURL)
	}
	for _, u := range c.NodeURLs {
		if _, err := loadbalancer.NewRemoteNode(u, c.Network, c.NodeUsername, c.NodePassword); err != nil {
			return fmt.Errorf("%s: %w", NodeURLs, err)
		}
	}
	if _, err := loadbalancer.ParseRule(c.LoadBalancerRule); err != nil {
		return err
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s must be one of debug, info, warn, error: %q", LogLevel, c.LogLevel)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%s must be positive", RefreshIntervalSec)
	}
	if c.NodePollInterval <= 0 {
		return fmt.Errorf("%s must be positive", NodePollIntervalSec)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%s must not be negative", BatchSize)
	}
	if c.PipeCapacity <= 0 {
		return fmt.Errorf("%s must be positive", PipeCapacity)
	}
	if _, err := c.Backoff.Policy(); err != nil {
		return fmt.Errorf("invalid backoff: %w", err)
	}
	if c.Retry.Enabled && (c.Retry.MaxRetries < 0 || c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay) {
		return fmt.Errorf("invalid retry settings: max_retries=%d initial=%s max=%s",
			c.Retry.MaxRetries, c.Retry.InitialDelay, c.Retry.MaxDelay)
	}
	return nil
}
