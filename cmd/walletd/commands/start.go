package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rollupwallet/wallet-daemon/api"
	"github.com/rollupwallet/wallet-daemon/config"
	"github.com/rollupwallet/wallet-daemon/coordinator"
	"github.com/rollupwallet/wallet-daemon/daemon"
	"github.com/rollupwallet/wallet-daemon/db"
	"github.com/rollupwallet/wallet-daemon/l1"
	"github.com/rollupwallet/wallet-daemon/pricefeed"
	"github.com/rollupwallet/wallet-daemon/store"
)

// StartCmd represents the start command
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wallet daemon",
	Long: `Start the wallet daemon with the configuration from ~/.walletd/config.toml.
The daemon will track pending transactions for the watched addresses and
serve projected balances over HTTP and WebSocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCommand()
	},
}

func startCommand() error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	log.SetLevel(logrus.InfoLevel)

	ctx := context.Background()

	// Get user's home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %v", err)
	}

	// Load configuration
	configPath := filepath.Join(home, ".walletd", "config.toml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if len(cfg.Wallet.Addresses) == 0 {
		return fmt.Errorf("no watched addresses configured, run init with --wallet.addresses")
	}

	refreshInterval, err := cfg.ParseRefreshInterval()
	if err != nil {
		return err
	}
	priceUpdateInterval, err := cfg.ParsePriceUpdateInterval()
	if err != nil {
		return err
	}

	// Initialize pending-store database
	pendingDB, err := db.NewLevelDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize pending database: %v", err)
	}
	defer pendingDB.Close()

	deposits := store.NewDeposits(pendingDB)
	withdraws := store.NewWithdraws(pendingDB)
	delayedWithdraws := store.NewDelayedWithdraws(pendingDB)

	// Initialize coordinator client
	coordClient := coordinator.NewClient(cfg.Coordinator.URL, log)
	log.Infof("Initialized coordinator client with URL: %s", cfg.Coordinator.URL)

	// Initialize L1 client
	l1Client, err := l1.NewClient(cfg.L1.RPCURL, cfg.L1.DelayerAddress)
	if err != nil {
		log.Fatalf("Failed to initialize L1 client: %v", err)
	}
	defer l1Client.Close()

	// Start price feed updater
	priceClient := pricefeed.NewClient(cfg.PriceFeed.URL, log)
	updater := pricefeed.NewUpdater(priceClient, cfg.Wallet.FiatCurrencies, priceUpdateInterval, log)
	go updater.Start(ctx)

	// Start the sync engine
	engine := daemon.New(coordClient, l1Client, updater, deposits, withdraws, delayedWithdraws,
		cfg.Wallet.Addresses, cfg.Wallet.PreferredCurrency, refreshInterval, log)
	go engine.Run(ctx)

	// Start API server
	log.Infof("Starting wallet daemon for %d address(es)...", len(cfg.Wallet.Addresses))
	if err := api.Start(cfg.General.APIPort, engine, log); err != nil {
		log.Fatalf("API server failed: %v", err)
	}

	return nil
}
