package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rollupwallet/wallet-daemon/config"
)

// InitCmd represents the init command
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the wallet daemon",
	Long: `Initialize the wallet daemon with the required configuration.
This command creates the necessary directories and configuration files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd)
	},
}

func init() {
	// Wallet configuration flags
	InitCmd.Flags().StringSlice("wallet.addresses", nil, "Watched rollup addresses (hez:0x...)")
	InitCmd.Flags().String("wallet.preferred-currency", "USD", "Currency used for fiat balances")

	// Endpoint configuration flags
	InitCmd.Flags().String("coordinator.url", "http://127.0.0.1:8086/v1", "Coordinator API URL")
	InitCmd.Flags().String("price-feed.url", "http://127.0.0.1:8087/v1", "Price feed API URL")
	InitCmd.Flags().String("l1.rpc-url", "http://127.0.0.1:8545", "L1 RPC URL")
	InitCmd.Flags().String("l1.delayer-address", "", "Withdrawal delayer contract address")

	// General configuration flags
	InitCmd.Flags().String("api.port", ":8546", "API server port")

	// Mark required flags
	InitCmd.MarkFlagRequired("wallet.addresses")
	InitCmd.MarkFlagRequired("l1.delayer-address")
}

func initCommand(cmd *cobra.Command) error {
	// Get flag values
	addresses, _ := cmd.Flags().GetStringSlice("wallet.addresses")
	preferredCurrency, _ := cmd.Flags().GetString("wallet.preferred-currency")
	coordinatorURL, _ := cmd.Flags().GetString("coordinator.url")
	priceFeedURL, _ := cmd.Flags().GetString("price-feed.url")
	l1RPCURL, _ := cmd.Flags().GetString("l1.rpc-url")
	delayerAddress, _ := cmd.Flags().GetString("l1.delayer-address")
	apiPort, _ := cmd.Flags().GetString("api.port")

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	log.SetLevel(logrus.InfoLevel)

	// Validate watched addresses
	for _, address := range addresses {
		if !strings.HasPrefix(address, "hez:0x") {
			return fmt.Errorf("invalid address %s: watched addresses must use the hez:0x prefix", address)
		}
	}

	// Get user's home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %v", err)
	}

	// Create .walletd directory
	walletDir := filepath.Join(home, ".walletd")
	if err := os.MkdirAll(walletDir, 0755); err != nil {
		return fmt.Errorf("failed to create .walletd directory: %v", err)
	}

	// Create data directory for the pending stores
	dataDir := filepath.Join(walletDir, "data", "pending_db")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", dataDir, err)
	}

	// Create config with command-line flags
	cfg := config.DefaultConfig()
	cfg.Wallet.Addresses = addresses
	cfg.Wallet.PreferredCurrency = preferredCurrency
	cfg.Coordinator.URL = coordinatorURL
	cfg.PriceFeed.URL = priceFeedURL
	cfg.L1.RPCURL = l1RPCURL
	cfg.L1.DelayerAddress = delayerAddress
	cfg.General.APIPort = apiPort
	cfg.Database.Path = dataDir

	// Save config file
	configPath := filepath.Join(walletDir, "config.toml")
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to create config file: %v", err)
	}
	log.Infof("Created config file at: %s", configPath)

	// Show configuration summary
	fmt.Println("\n=== Configuration Summary ===")
	fmt.Printf("Watched Addresses: %s\n", strings.Join(cfg.Wallet.Addresses, ", "))
	fmt.Printf("Preferred Currency: %s\n", cfg.Wallet.PreferredCurrency)
	fmt.Printf("Coordinator URL: %s\n", cfg.Coordinator.URL)
	fmt.Printf("Price Feed URL: %s\n", cfg.PriceFeed.URL)
	fmt.Printf("L1 RPC URL: %s\n", cfg.L1.RPCURL)
	fmt.Printf("Delayer Address: %s\n", cfg.L1.DelayerAddress)
	fmt.Printf("API Port: %s\n", cfg.General.APIPort)
	fmt.Printf("Config File: %s\n", configPath)

	log.Info("\nInitialization completed successfully!")
	log.Info("You can start the wallet daemon using: ./walletd start")

	return nil
}
