package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	KV          KVConfig
	Abuse       AbuseConfig
	Batch       BatchConfig
	Facilitator FacilitatorConfig
	Chain       ChainConfig
	Payment     PaymentConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// InternalMintSecret gates POST /internal/mint/<secret>.
	// Empty disables the internal route entirely.
	InternalMintSecret string `mapstructure:"internal_mint_secret"`
}

type KVConfig struct {
	URL               string `mapstructure:"url"`
	Password          string `mapstructure:"password"`
	PoolMin           int    `mapstructure:"pool_min"`
	PoolMax           int    `mapstructure:"pool_max"`
	AcquireTimeoutMS  int    `mapstructure:"acquire_timeout_ms"`
	IdleTimeoutSec    int    `mapstructure:"idle_timeout_sec"`
	CommandTimeoutSec int    `mapstructure:"command_timeout_sec"`
	ConnectAttempts   int    `mapstructure:"connect_attempts"`
}

type AbuseConfig struct {
	WindowSec   int `mapstructure:"window_sec"`
	MaxRequests int `mapstructure:"max_requests"`
	BanSec      int `mapstructure:"ban_sec"`
	// InternalWhitelist additionally requires the caller IP of the internal
	// mint route to be whitelisted (path secrecy alone otherwise).
	InternalWhitelist bool `mapstructure:"internal_whitelist"`
}

type BatchConfig struct {
	Size       int `mapstructure:"size"`
	TimeoutMS  int `mapstructure:"timeout_ms"`
	MaxRetries int `mapstructure:"max_retries"`
	StaleSec   int `mapstructure:"stale_sec"`
	SweepSec   int `mapstructure:"sweep_sec"`
}

type FacilitatorConfig struct {
	URL              string `mapstructure:"url"`
	TimeoutSec       int    `mapstructure:"timeout_sec"`
	VerifyTimeoutSec int    `mapstructure:"verify_timeout_sec"`
	SettleTimeoutSec int    `mapstructure:"settle_timeout_sec"`
}

type ChainConfig struct {
	// RPCURLs is a comma-separated list of equivalent RPC endpoints.
	RPCURLs string `mapstructure:"rpc_urls"`
	ChainID int64  `mapstructure:"chain_id"`
}

// RPCURLList splits the configured endpoints, dropping empty entries.
func (c ChainConfig) RPCURLList() []string {
	var urls []string
	for _, u := range strings.Split(c.RPCURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

type PaymentConfig struct {
	Network       string `mapstructure:"network"`
	AssetAddress  string `mapstructure:"asset_address"`
	AssetName     string `mapstructure:"asset_name"`
	AssetVersion  string `mapstructure:"asset_version"`
	AssetDecimals int    `mapstructure:"asset_decimals"`
	// PriceUnits is the mint price in whole asset units ("10" = 10 USDT).
	PriceUnits    string `mapstructure:"price_units"`
	MaxTimeoutSec int    `mapstructure:"max_timeout_sec"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("kv.url", "redis:6379")
	v.SetDefault("kv.pool_min", 2)
	v.SetDefault("kv.pool_max", 10)
	v.SetDefault("kv.acquire_timeout_ms", 5000)
	v.SetDefault("kv.idle_timeout_sec", 300)
	v.SetDefault("kv.command_timeout_sec", 30)
	v.SetDefault("kv.connect_attempts", 5)
	v.SetDefault("abuse.window_sec", 60)
	v.SetDefault("abuse.max_requests", 10)
	v.SetDefault("abuse.ban_sec", 300)
	v.SetDefault("abuse.internal_whitelist", false)
	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.timeout_ms", 2000)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.stale_sec", 120)
	v.SetDefault("batch.sweep_sec", 30)
	v.SetDefault("facilitator.timeout_sec", 30)
	v.SetDefault("facilitator.verify_timeout_sec", 60)
	v.SetDefault("facilitator.settle_timeout_sec", 180)
	v.SetDefault("chain.chain_id", 56)
	v.SetDefault("payment.network", "bsc")
	v.SetDefault("payment.asset_name", "USDT")
	v.SetDefault("payment.asset_version", "1")
	v.SetDefault("payment.asset_decimals", 6)
	v.SetDefault("payment.price_units", "10")
	v.SetDefault("payment.max_timeout_sec", 300)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                    "PORT",
		"server.internal_mint_secret":    "INTERNAL_MINT_SECRET",
		"kv.url":                         "KV_URL",
		"kv.password":                    "KV_PASSWORD",
		"kv.pool_min":                    "KV_POOL_MIN",
		"kv.pool_max":                    "KV_POOL_MAX",
		"kv.acquire_timeout_ms":          "KV_ACQUIRE_TIMEOUT_MS",
		"kv.idle_timeout_sec":            "KV_IDLE_TIMEOUT_SEC",
		"kv.command_timeout_sec":         "KV_COMMAND_TIMEOUT_SEC",
		"kv.connect_attempts":            "KV_CONNECT_ATTEMPTS",
		"abuse.window_sec":               "ABUSE_WINDOW_SEC",
		"abuse.max_requests":             "ABUSE_MAX_REQUESTS",
		"abuse.ban_sec":                  "ABUSE_BAN_SEC",
		"abuse.internal_whitelist":       "ABUSE_INTERNAL_WHITELIST",
		"batch.size":                     "BATCH_SIZE",
		"batch.timeout_ms":               "BATCH_TIMEOUT_MS",
		"batch.max_retries":              "BATCH_MAX_RETRIES",
		"batch.stale_sec":                "BATCH_STALE_SEC",
		"batch.sweep_sec":                "BATCH_SWEEP_SEC",
		"facilitator.url":                "FACILITATOR_URL",
		"facilitator.timeout_sec":        "FACILITATOR_TIMEOUT_SEC",
		"facilitator.verify_timeout_sec": "VERIFY_TIMEOUT_SEC",
		"facilitator.settle_timeout_sec": "SETTLE_TIMEOUT_SEC",
		"chain.rpc_urls":                 "RPC_URLS",
		"chain.chain_id":                 "CHAIN_ID",
		"payment.network":                "PAYMENT_NETWORK",
		"payment.asset_address":          "ASSET_ADDRESS",
		"payment.asset_name":             "ASSET_NAME",
		"payment.asset_version":          "ASSET_VERSION",
		"payment.asset_decimals":         "ASSET_DECIMALS",
		"payment.price_units":            "PRICE_UNITS",
		"payment.max_timeout_sec":        "PAYMENT_MAX_TIMEOUT_SEC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.KV.URL, "KV_URL"},
		{c.Facilitator.URL, "FACILITATOR_URL"},
		{c.Chain.RPCURLs, "RPC_URLS"},
		{c.Payment.AssetAddress, "ASSET_ADDRESS"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.KV.PoolMin < 0 || c.KV.PoolMax < 1 || c.KV.PoolMin > c.KV.PoolMax {
		return fmt.Errorf("invalid pool bounds: min=%d max=%d", c.KV.PoolMin, c.KV.PoolMax)
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("invalid BATCH_SIZE: %d", c.Batch.Size)
	}
	if price, ok := new(big.Int).SetString(c.Payment.PriceUnits, 10); !ok || price.Sign() <= 0 {
		return fmt.Errorf("invalid PRICE_UNITS: %q", c.Payment.PriceUnits)
	}
	return nil
}
