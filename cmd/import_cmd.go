package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/embedkit/internal/idgen"
	"github.com/nextlevelbuilder/embedkit/internal/store"
)

// legacyFile is the plaintext config.json written by older deployments.
// YAML bot lists use the same shape with credential or apiKey per bot.
type legacyFile struct {
	APIKey     *string     `json:"apiKey" yaml:"apiKey"`
	Credential *string     `json:"credential" yaml:"credential"`
	Bots       []legacyBot `json:"bots" yaml:"bots"`
}

type legacyBot struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	SiteID     string `json:"siteId" yaml:"siteId"`
	WorkflowID string `json:"workflowId" yaml:"workflowId"`
	APIKey     string `json:"apiKey" yaml:"apiKey"`
	Credential string `json:"credential" yaml:"credential"`
	Color      string `json:"color" yaml:"color"`
	Title      string `json:"title" yaml:"title"`
	Position   string `json:"position" yaml:"position"`
}

func importCmd() *cobra.Command {
	var skipCredential bool
	cmd := &cobra.Command{
		Use:   "import <config.json|bots.yaml>",
		Short: "Import a legacy plaintext config or a YAML bot list into the encrypted store",
		Long: "Replaces the stored bot collection with the bots in the file. The global credential\n" +
			"is replaced too when the file carries one, unless --skip-credential is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			u, err := parseImport(args[0], data)
			if err != nil {
				return err
			}
			if skipCredential {
				u.Credential = nil
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

			if err := rt.store.Write(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Printf("Imported %d bot(s) into the %s store", len(*u.Bots), rt.store.Backend())
			if u.Credential != nil {
				fmt.Print(" with a global credential")
			}
			fmt.Println(".")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipCredential, "skip-credential", false, "leave the stored global credential untouched")
	return cmd
}

// parseImport decodes path by extension and builds the store update.
// Bots without an id get a fresh one.
func parseImport(path string, data []byte) (store.Update, error) {
	var lf legacyFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &lf); err != nil {
			return store.Update{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &lf); err != nil {
			return store.Update{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	bots := make([]store.Bot, 0, len(lf.Bots))
	for _, b := range lf.Bots {
		cred := b.Credential
		if cred == "" {
			cred = b.APIKey
		}
		id := b.ID
		if id == "" {
			id = idgen.BotID()
		}
		bots = append(bots, store.Bot{
			ID:         id,
			Name:       b.Name,
			SiteID:     b.SiteID,
			WorkflowID: b.WorkflowID,
			Credential: cred,
			Color:      b.Color,
			Title:      b.Title,
			Position:   b.Position,
		})
	}
	if err := store.ValidateBots(bots); err != nil {
		return store.Update{}, err
	}

	u := store.Update{Bots: &bots}
	switch {
	case lf.Credential != nil:
		u.Credential = lf.Credential
	case lf.APIKey != nil:
		u.Credential = lf.APIKey
	}
	return u, nil
}
