package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rollupwallet/wallet-daemon/cmd/walletd/commands"
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:   "walletd",
		Short: "A zk-rollup wallet daemon",
		Long: `A zk-rollup wallet daemon that tracks pending transactions and projects
account balances for a set of watched addresses. It reconciles locally
tracked deposits and withdrawals against the coordinator API and serves
the projected state over HTTP and WebSocket.`,
	}

	// Add commands
	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.StartCmd)

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
