package cmd

import (
	"github.com/spf13/cobra"

	"github.com/awaketai/urlfrontier/cmd/serve"
	"github.com/awaketai/urlfrontier/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the frontier service",
	Long:  "run the frontier service: gRPC + REST, leader election when etcd endpoints are configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve.Run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version",
	Long:  "print version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		version.Printer()
	},
}

// Execute runs the frontier's command tree.
func Execute() error {
	rootCmd := &cobra.Command{Use: "urlfrontier"}
	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd.Execute()
}
