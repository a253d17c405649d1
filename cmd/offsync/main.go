package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	ownerFlag int64
)

var rootCmd = &cobra.Command{
	Use:           "offsync",
	Short:         "Offline mirror and sync service for learning content",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().Int64Var(&ownerFlag, "owner", 0, "owner id to act as (default: mcp.owner_id)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// currentOwner returns the --owner flag or the configured default owner.
func currentOwner(defaultOwner int) int64 {
	if ownerFlag != 0 {
		return ownerFlag
	}
	return int64(defaultOwner)
}

func versionString() string {
	return fmt.Sprintf("offsync version %s", version)
}
