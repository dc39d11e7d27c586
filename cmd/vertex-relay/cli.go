package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tingly-dev/vertex-relay/internal/config"
	"github.com/tingly-dev/vertex-relay/internal/obs"
	"github.com/tingly-dev/vertex-relay/internal/provider"
	"github.com/tingly-dev/vertex-relay/internal/server"
)

// Set by the compiler via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "vertex-relay",
	Short: "OpenAI-compatible proxy for Claude on Vertex AI",
	Long: `vertex-relay exposes an OpenAI chat-completions endpoint and forwards
requests to Anthropic Claude models hosted on Google Vertex AI, translating
both request and response wire formats including streaming and tool calls.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logrus.SetLevel(logrus.TraceLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vertex-relay\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Go Version: %s\n", runtime.Version())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
}

func serve() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	obs.Setup(cfg.LogLevel, cfg.LogFile)

	backend, err := provider.New(cfg)
	if err != nil {
		return err
	}

	return server.New(cfg, backend, version).Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
