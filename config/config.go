package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Config holds the application configuration
type Config struct {
	General     GeneralConfig     `toml:"general"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	PriceFeed   PriceFeedConfig   `toml:"price_feed"`
	L1          L1Config          `toml:"l1"`
	Database    DatabaseConfig    `toml:"database"`
	Wallet      WalletConfig      `toml:"wallet"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	APIPort         string `toml:"api_port"`
	RefreshInterval string `toml:"refresh_interval"`
}

// CoordinatorConfig holds the rollup coordinator API settings
type CoordinatorConfig struct {
	URL string `toml:"url"`
}

// PriceFeedConfig holds the fiat price feed settings
type PriceFeedConfig struct {
	URL            string `toml:"url"`
	UpdateInterval string `toml:"update_interval"`
}

// L1Config holds the Ethereum RPC settings used for gas price estimation
// and for reading the withdrawal-delayer contract
type L1Config struct {
	RPCURL         string `toml:"rpc_url"`
	DelayerAddress string `toml:"delayer_address"`
}

// DatabaseConfig holds the pending-store database path
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// WalletConfig holds the watched addresses and display preferences
type WalletConfig struct {
	Addresses         []string `toml:"addresses"`
	PreferredCurrency string   `toml:"preferred_currency"`
	FiatCurrencies    []string `toml:"fiat_currencies"`
}

// DefaultConfig returns the default configuration values
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			APIPort:         ":8545",
			RefreshInterval: "15s",
		},
		Coordinator: CoordinatorConfig{
			URL: "http://127.0.0.1:8086/v1",
		},
		PriceFeed: PriceFeedConfig{
			URL:            "http://127.0.0.1:8087/v1",
			UpdateInterval: "60s",
		},
		L1: L1Config{
			RPCURL:         "http://127.0.0.1:8545",
			DelayerAddress: "0x0000000000000000000000000000000000000000",
		},
		Database: DatabaseConfig{
			Path: "./data/pending_db",
		},
		Wallet: WalletConfig{
			PreferredCurrency: "USD",
			FiatCurrencies:    []string{"EUR", "CNY", "JPY", "GBP"},
		},
	}
}

// LoadConfig reads from config.toml and returns Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}

	err = toml.Unmarshal(file, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given path
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}
	return nil
}

// RefreshInterval parses the configured account refresh interval.
func (c Config) ParseRefreshInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.General.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh_interval: %v", err)
	}
	return d, nil
}

// ParsePriceUpdateInterval parses the configured price feed update interval.
func (c Config) ParsePriceUpdateInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.PriceFeed.UpdateInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid update_interval: %v", err)
	}
	return d, nil
}
