package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"overdub/internal/config"
	"overdub/internal/export"
	"overdub/internal/stream"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run one headless export pass",
	Long: `Load the configured manifest, play the full dubbed timeline without a
listener, and write the finished media file to the artifact directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.ManifestPath == "" {
			return fmt.Errorf("no manifest configured (set OVERDUB_MANIFEST)")
		}
		return runExport(cfg)
	},
}

func runExport(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.registry.Close()
	defer a.frames.Close()

	go a.mixer.Run(ctx)

	// No listeners attach in headless mode, but the broadcaster still has
	// to drain the mixer's frame channel or the mix loop stalls.
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, a.mixer.Frames())

	go a.clock.Run(ctx)

	if err := a.loadManifest(ctx, cfg.ManifestPath); err != nil {
		return err
	}

	if err := a.controller.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastPct := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		switch a.controller.StateNow() {
		case export.Recording:
			if p := a.controller.Percent(); p != lastPct {
				log.Printf("Export: %d%%", p)
				lastPct = p
			}
		case export.Ready:
			records, err := a.registry.List(ctx)
			if err != nil || len(records) == 0 {
				return fmt.Errorf("export finished but artifact not persisted: %v", err)
			}
			fmt.Println(records[0].Path)
			return nil
		case export.Failed:
			return fmt.Errorf("export failed: %w", a.controller.Err())
		}
	}
}
