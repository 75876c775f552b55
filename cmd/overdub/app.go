package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"overdub/internal/audio"
	"overdub/internal/capture"
	"overdub/internal/config"
	"overdub/internal/dubber"
	"overdub/internal/engine"
	"overdub/internal/export"
	"overdub/internal/segment"
	"overdub/internal/transport"
)

// app is the assembled player: every long-lived component wired together
// the same way for the HTTP service and the headless export command.
type app struct {
	cfg config.Config

	store      *segment.Store
	mixer      *audio.Mixer
	clock      *transport.Clock
	session    *engine.Session
	controller *export.Controller
	registry   *export.Registry
	dub        *dubber.Client
	frames     *capture.VideoFrameSource
}

// buildApp probes the base video, preloads its frames for capture, and
// wires store, mixer, clock, engine, and export controller together.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.VideoPath == "" {
		return nil, fmt.Errorf("no base video configured (set OVERDUB_VIDEO)")
	}

	duration, err := transport.ProbeDuration(ctx, cfg.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", cfg.VideoPath, err)
	}
	log.Printf("Base video: %s (%.2fs)", cfg.VideoPath, duration)

	frames, err := capture.OpenVideo(ctx, cfg.VideoPath, cfg.CaptureWidth, cfg.CaptureHeight)
	if err != nil {
		return nil, fmt.Errorf("open video frames: %w", err)
	}
	log.Printf("Capture source ready at %dx%d", cfg.CaptureWidth, cfg.CaptureHeight)

	dub := dubber.NewClient(cfg.DubberAPIURL, cfg.DubberAPIKey, cfg.DubberOutputDir)

	// Voice assets may live on the dubber's shared volume or behind its
	// HTTP surface; either way they end up as local files for ffmpeg.
	store := segment.NewStore(func(ctx context.Context, ref string) ([]int16, error) {
		path, err := dub.ResolveAsset(ref)
		if err != nil {
			return nil, err
		}
		return audio.DecodeFile(ctx, path)
	})

	mixer := audio.NewMixer()
	clock := transport.NewClock(duration, cfg.TickInterval)
	session := engine.NewSession(store, mixer, clock)

	mixer.SetOnDone(session.OnVoiceDone)
	clock.SetOnTick(session.OnTick)
	clock.SetOnSeek(session.HandleSeek)

	registry, err := export.OpenRegistry(cfg.RegistryPath, cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}

	controller := export.NewController(store, session, clock, mixer, func() export.Pipeline {
		enc := capture.NewFFmpegEncoder(cfg.CaptureWidth, cfg.CaptureHeight)
		return capture.NewSession(frames, enc, clock.Position)
	})

	clock.SetOnEnded(func() {
		controller.OnMediaEnded()
		if a, err := controller.Artifact(); err == nil {
			// Persist every finished pass; the download path then has a
			// durable fallback if the in-memory copy is gone.
			if path, err := registry.Save(a); err != nil {
				log.Printf("Artifact %s not persisted: %v", a.ID, err)
			} else {
				log.Printf("Artifact %s persisted to %s", a.ID, path)
			}
		}
	})

	return &app{
		cfg:        cfg,
		store:      store,
		mixer:      mixer,
		clock:      clock,
		session:    session,
		controller: controller,
		registry:   registry,
		dub:        dub,
		frames:     frames,
	}, nil
}

// loadManifest loads a segment manifest file into the store.
func (a *app) loadManifest(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	segs, err := segment.ParseManifest(f)
	if err != nil {
		return fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := a.store.Load(ctx, segs); err != nil {
		return err
	}
	log.Printf("Loaded %d segments from %s", a.store.Count(), path)
	return nil
}
