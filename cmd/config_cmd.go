package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/embedkit/internal/config"
	"github.com/nextlevelbuilder/embedkit/internal/store"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configSetCredentialCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(cfg.MaskedCopy(), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ResolveEncryptionKey(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Printf("Config at %s is valid.\n", cfgPath)
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Default()
			if isInteractive() {
				pw, err := promptSecret("Dashboard password", "Required to change bots and credentials. Leave empty to keep the dashboard open.", true)
				if err != nil {
					return err
				}
				cfg.Security.DashboardPassword = pw
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", cfgPath)
			fmt.Println("Set EMBEDKIT_ENCRYPTION_KEY or run `embedkit keygen --keyring` before starting the server.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configSetCredentialCmd() *cobra.Command {
	var fromStdin, remove bool
	cmd := &cobra.Command{
		Use:   "set-credential",
		Short: "Store the global upstream credential (sealed at rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			switch {
			case remove:
			case fromStdin:
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read credential: %w", err)
				}
				value = strings.TrimSpace(line)
			default:
				if !isInteractive() {
					return errors.New("no terminal; use --stdin or --clear")
				}
				v, err := promptSecret("Global credential", "Used for every site whose bot has no credential of its own.", false)
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" && !remove {
				return errors.New("empty credential (use --clear to remove it)")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.store.Write(cmd.Context(), store.Update{Credential: &value}); err != nil {
				return err
			}
			if remove {
				fmt.Println("Global credential cleared.")
			} else {
				fmt.Printf("Global credential stored (%s).\n", store.Preview(value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the credential from the first line of stdin")
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the global credential")
	return cmd
}

func isInteractive() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
