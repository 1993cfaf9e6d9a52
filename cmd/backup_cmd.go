package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload a snapshot of the config store to S3 (secrets stay sealed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Backup.Bucket == "" {
				return errors.New("backup.bucket is not configured")
			}
			rt, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			runner, err := rt.backupRunner(cmd.Context())
			if err != nil {
				return err
			}
			key, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded s3://%s/%s\n", cfg.Backup.Bucket, key)
			return nil
		},
	}
}
