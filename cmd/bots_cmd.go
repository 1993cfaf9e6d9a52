package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/embedkit/internal/store"
)

func botsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "List and remove registered bots",
	}
	cmd.AddCommand(botsListCmd())
	cmd.AddCommand(botsRemoveCmd())
	return cmd
}

func botsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bots (credentials masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			current, err := rt.store.Read(cmd.Context())
			if err != nil {
				return err
			}
			summary := store.Mask(current)

			if jsonOutput {
				data, _ := json.MarshalIndent(summary, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Global credential: %s\n\n", credentialState(summary.HasCredential, summary.CredentialPreview))
			if len(summary.Bots) == 0 {
				fmt.Println("No bots registered.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tSITE ID\tWORKFLOW\tCREDENTIAL\tID\n")
			for _, b := range summary.Bots {
				own := "global"
				if b.HasCredential {
					own = "own"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.Name, b.SiteID, b.WorkflowID, own, b.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func botsRemoveCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <site-id>",
		Short: "Remove the bot registered for a site id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			current, err := rt.store.Read(cmd.Context())
			if err != nil {
				return err
			}
			kept, removed := withoutSite(current.Bots, args[0])
			if !removed {
				return fmt.Errorf("no bot with site id %q", args[0])
			}
			if !yes && isInteractive() {
				ok, err := promptConfirm(fmt.Sprintf("Remove bot for site %q?", args[0]))
				if err != nil || !ok {
					return err
				}
			}
			if err := rt.store.Write(cmd.Context(), store.Update{Bots: &kept}); err != nil {
				return err
			}
			fmt.Printf("Removed bot for site %s.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func withoutSite(bots []store.Bot, siteID string) ([]store.Bot, bool) {
	kept := make([]store.Bot, 0, len(bots))
	removed := false
	for _, b := range bots {
		if b.SiteID == siteID {
			removed = true
			continue
		}
		kept = append(kept, b)
	}
	return kept, removed
}

func credentialState(has bool, preview string) string {
	if !has {
		return "not set"
	}
	return "set (" + preview + ")"
}
