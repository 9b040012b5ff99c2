package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/whatsclaw/internal/config"
	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, database, and bridge connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(resolveConfigPath())
		},
	}
}

func runDoctor(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return report("config", false, err)
	}
	report("config", true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var repo repository.Repository
	if cfg.Database.Driver == "postgres" {
		repo, err = repository.NewPostgresRepository(ctx, cfg.Database.PostgresDSN, nil)
	} else {
		repo, err = repository.NewSQLiteRepository(ctx, config.ExpandHome(cfg.Database.SQLitePath), nil)
	}
	if err != nil {
		report("database", false, err)
	} else {
		report("database", true, nil)
		repo.Close()
	}

	if !cfg.HasAnyProvider() {
		report("model provider", false, fmt.Errorf("no provider API key configured"))
	} else {
		report("model provider", true, nil)
	}

	if cfg.Channel.Enabled {
		if cfg.Channel.BridgeURL == "" {
			report("whatsapp bridge", false, fmt.Errorf("channel.bridge_url is empty"))
		} else {
			client := http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(cfg.Channel.BridgeURL)
			if err != nil {
				report("whatsapp bridge", false, err)
			} else {
				resp.Body.Close()
				report("whatsapp bridge", true, nil)
			}
		}
	} else {
		fmt.Println("whatsapp bridge: skipped (channel disabled)")
	}

	return nil
}

func report(check string, ok bool, err error) error {
	if ok {
		fmt.Printf("%-16s OK\n", check+":")
		return nil
	}
	fmt.Printf("%-16s FAILED: %v\n", check+":", err)
	return err
}
