// Command server runs the vibechat backend.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "vibechat-server",
	Short:        "vibechat backend: accounts, conversations and the push hub",
	Long:         "vibechat backend: accounts, conversations and the push hub",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vibechat.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd, useraddCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
