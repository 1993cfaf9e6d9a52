package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/embedkit/internal/backup"
	"github.com/nextlevelbuilder/embedkit/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, secrets and store reachability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("embedkit doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults and environment)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	if err := cfg.ResolveEncryptionKey(); err != nil {
		checkLine("Master key", "MISSING ("+err.Error()+")")
	} else {
		checkLine("Master key", "configured")
	}
	checkLine("Dashboard", configuredOr(cfg.Security.DashboardPassword != "", "password set", "OPEN (no password)"))
	checkLine("Env default", configuredOr(cfg.Upstream.DefaultCredential != "", "OPENAI_API_KEY set", "not set"))

	fmt.Println()
	fmt.Println("  Store:")
	checkLine("Backend", cfg.Store.Backend)
	if err := cfg.Validate(); err != nil {
		checkLine("Config", "INVALID: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rt, err := openApp(ctx, cfg)
	if err != nil {
		checkLine("Open", "FAILED: "+err.Error())
		return
	}
	defer rt.Close()

	if err := rt.store.Ping(ctx); err != nil {
		checkLine("Ping", "FAILED: "+err.Error())
		return
	}
	checkLine("Ping", "OK")

	snap, err := rt.store.Snapshot(ctx)
	if err != nil {
		checkLine("Load", "FAILED: "+err.Error())
		return
	}
	if plain := store.Unsealed(snap); len(plain) > 0 {
		checkLine("At rest", fmt.Sprintf("%d plaintext (%s), sealed on next save", len(plain), strings.Join(plain, ", ")))
	} else {
		checkLine("At rest", "all secrets sealed")
	}

	current, err := rt.store.Read(ctx)
	if err != nil {
		checkLine("Read", "FAILED: "+err.Error())
		return
	}
	summary := store.Mask(current)
	checkLine("Global cred", credentialState(summary.HasCredential, summary.CredentialPreview))
	checkLine("Bots", fmt.Sprintf("%d registered", len(summary.Bots)))
	for _, b := range summary.Bots {
		if !b.HasCredential && !summary.HasCredential && cfg.Upstream.DefaultCredential == "" {
			checkLine("  "+b.SiteID, "no credential resolves for this site")
		}
	}

	fmt.Println()
	fmt.Println("  Backup:")
	switch {
	case cfg.Backup.Bucket == "":
		checkLine("S3", "not configured")
	case cfg.Backup.Schedule == "":
		checkLine("S3", "s3://"+cfg.Backup.Bucket+" (manual only)")
	default:
		status := "s3://" + cfg.Backup.Bucket + " at " + cfg.Backup.Schedule
		if err := backup.ValidateSchedule(cfg.Backup.Schedule); err != nil {
			status = "INVALID: " + err.Error()
		}
		checkLine("S3", status)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkLine(name, status string) {
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func configuredOr(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
