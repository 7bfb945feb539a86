package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcrawley/reveald/internal/core/auth"
	"github.com/dcrawley/reveald/internal/core/normalize"
	"github.com/dcrawley/reveald/internal/core/reveal"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List cameras on the account with normalized status",
	RunE:  runCameras,
}

func init() {
	rootCmd.AddCommand(camerasCmd)
}

// vendorClient builds an authenticated one-shot client for CLI commands.
func vendorClient(ctx context.Context) (*reveal.Client, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)

	tokens := auth.NewTokenManager(cfg.Reveal.Username, cfg.Reveal.Password, log)
	client := reveal.New(tokens, log)
	if cfg.Reveal.APIBase != "" {
		client.SetBaseURL(cfg.Reveal.APIBase)
	}
	tokens.SetAccountResolver(client)

	if err := tokens.EnsureValid(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, log, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCameras(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	client, log, err := vendorClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	raws, err := client.ListCameras(ctx)
	if err != nil {
		return fmt.Errorf("list cameras: %w", err)
	}

	norm := normalize.New(client, log)
	now := time.Now().UTC()
	if jsonOutput {
		cams := make([]interface{}, 0, len(raws))
		for _, raw := range raws {
			cams = append(cams, norm.Camera(raw, now))
		}
		return printJSON(cams)
	}

	for _, raw := range raws {
		cam := norm.Camera(raw, now)
		online := "offline"
		if cam.Status.Online {
			online = "online"
		}
		fmt.Printf("%s  %-24s %-12s %s\n", cam.ID, cam.Name, cam.Model, online)
	}
	return nil
}
