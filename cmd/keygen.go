package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/embedkit/internal/config"
	"github.com/nextlevelbuilder/embedkit/internal/crypto"
)

func keygenCmd() *cobra.Command {
	var useKeyring bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random master secret",
		Long: "Prints a new master secret for EMBEDKIT_ENCRYPTION_KEY. With --keyring the secret is\n" +
			"stored in the OS keyring instead, where the server finds it when no key is configured.\n" +
			"Values sealed under the previous secret become unreadable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := crypto.GenerateMasterSecret()
			if err != nil {
				return err
			}
			if !useKeyring {
				fmt.Println(secret)
				return nil
			}
			if err := keyring.Set(config.KeyringService, config.KeyringUser, secret); err != nil {
				return fmt.Errorf("store in keyring: %w", err)
			}
			fmt.Printf("Master secret stored in the OS keyring (service %q).\n", config.KeyringService)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useKeyring, "keyring", false, "store the secret in the OS keyring instead of printing it")
	return cmd
}
