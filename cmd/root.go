// Package cmd holds the embedkit command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/embedkit/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	envFile string
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "embedkit",
		Short:         "Config and token broker for embeddable chat widgets",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running with no subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $EMBEDKIT_CONFIG or embedkit.json5)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment overrides")

	root.AddCommand(serveCmd())
	root.AddCommand(configCmd())
	root.AddCommand(botsCmd())
	root.AddCommand(importCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("EMBEDKIT_CONFIG"); v != "" {
		return v
	}
	return config.DefaultConfigPath
}

// loadConfig applies the .env file and then reads the config file with env overrides.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	return config.Load(resolveConfigPath())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("embedkit %s\n", Version)
		},
	}
}
