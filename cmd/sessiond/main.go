// Package main runs a skirmish session: the authoritative loop, the SSH
// member front end and the admin HTTP surface.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Authoritative skirmish session server",
	Long: `sessiond hosts one skirmish session. Members connect over SSH, the
session walks through warmup, combat and result phases, and state is
replicated to watchers over NATS or Redis when configured.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
}
