// Command client is the vibechat terminal UI.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/logging"
)

var (
	configPath string
	apiURL     string
	pushURL    string
)

var rootCmd = &cobra.Command{
	Use:          "vibechat",
	Short:        "Terminal client for vibechat",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "vibechat.yaml", "path to configuration file")
	f.StringVar(&apiURL, "api", "", "API base URL (overrides client.api_url)")
	f.StringVar(&pushURL, "push", "", "push endpoint (overrides client.push_url)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if apiURL != "" {
		cfg.Client.APIURL = apiURL
	}
	if pushURL != "" {
		cfg.Client.PushURL = pushURL
	}

	// stdout belongs to the UI, so logs go to a file.
	logFile, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.New(cfg.Logging, logFile)

	a, err := newApp(cfg.Client, logger)
	if err != nil {
		return err
	}
	defer a.close()

	p := tea.NewProgram(initialModel(a), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
