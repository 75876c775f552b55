package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"overdub/internal/config"
	"overdub/internal/dubber"
	"overdub/internal/export"
	"overdub/internal/stream"
	"overdub/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the player service",
	Long:  "Serve the web player, live narration streams, and the export API over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("overdub starting up...")

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.registry.Close()
	defer a.frames.Close()

	go a.mixer.Run(ctx)

	// Broadcaster: fan-out narration frames to all listeners
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, a.mixer.Frames())

	go a.clock.Run(ctx)

	if cfg.ManifestPath != "" {
		if err := a.loadManifest(ctx, cfg.ManifestPath); err != nil {
			return err
		}
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	mux := http.NewServeMux()

	// Web UI
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(web.IndexHTML)
	})

	// Audio streams
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster))
	mux.Handle("/offer", webrtcHandler)

	// API endpoints
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		snap := a.session.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"playing":          snap.Playing,
			"held":             snap.Held,
			"position":         a.clock.Position(),
			"duration":         a.clock.Duration(),
			"caption":          snap.Caption,
			"active_segment":   snap.ActiveSegment,
			"triggered":        snap.Triggered,
			"segments":         a.store.Count(),
			"loaded":           a.store.Ready(),
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
			"export":           a.exportStatus(),
		})
	})

	mux.HandleFunc("/api/load", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Manifest string        `json:"manifest"`
			Title    string        `json:"title"`
			Script   []dubber.Line `json:"script"`
			Voice    string        `json:"voice"`
			Language string        `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.Manifest == "" && len(req.Script) == 0 {
			http.Error(w, "manifest path or script required", http.StatusBadRequest)
			return
		}

		// Replacing the segment list mid-flight would race the pass in
		// progress; park playback first.
		a.session.SetPlaying(false)
		a.clock.Seek(0)

		if req.Manifest != "" {
			if err := a.loadManifest(r.Context(), req.Manifest); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			if err := a.generateAndLoad(r.Context(), req.Title, req.Script, req.Voice, req.Language); err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "segments": a.store.Count()})
	})

	mux.HandleFunc("/api/play", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		a.session.SetPlaying(true)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "playing": true})
	})

	mux.HandleFunc("/api/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		a.session.SetPlaying(false)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "playing": false})
	})

	mux.HandleFunc("/api/seek", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Position float64 `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position < 0 {
			http.Error(w, "invalid position", http.StatusBadRequest)
			return
		}
		a.clock.Seek(req.Position)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "position": req.Position})
	})

	mux.HandleFunc("/api/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		// The capture pipeline must outlive this request; it runs on the
		// server's context, not the request's.
		if err := a.controller.Start(ctx); err != nil {
			status := http.StatusConflict
			if err == export.ErrNoSegments || err == export.ErrNotReady {
				status = http.StatusPreconditionFailed
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/export/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(a.exportStatus())
	})

	mux.HandleFunc("/api/export/download", func(w http.ResponseWriter, r *http.Request) {
		artifact, err := a.controller.Artifact()
		if err == nil {
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="overdub-%s%s"`, artifact.ID, artifact.Ext))
			w.Header().Set("Content-Type", artifact.MIME)
			w.Write(artifact.Data)
			return
		}

		// In-memory artifact gone (e.g. restart): serve the newest
		// persisted one from the registry.
		records, lerr := a.registry.List(r.Context())
		if lerr != nil || len(records) == 0 {
			http.Error(w, "no artifact available", http.StatusNotFound)
			return
		}
		rec := records[0]
		if id := r.URL.Query().Get("id"); id != "" {
			rec, lerr = a.registry.Find(r.Context(), id)
			if lerr != nil {
				http.Error(w, "unknown artifact", http.StatusNotFound)
				return
			}
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="overdub-%s%s"`, rec.ID, rec.Ext))
		w.Header().Set("Content-Type", rec.MIME)
		http.ServeFile(w, r, rec.Path)
	})

	mux.HandleFunc("/api/export/list", func(w http.ResponseWriter, r *http.Request) {
		records, err := a.registry.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("overdub live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

// generateAndLoad submits a script to the dubber service, waits for the
// synthesized segments, and loads them into the store.
func (a *app) generateAndLoad(ctx context.Context, title string, script []dubber.Line, voice, language string) error {
	healthCtx, healthCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer healthCancel()
	if err := a.dub.WaitForHealthy(healthCtx); err != nil {
		return fmt.Errorf("dubber not available: %w", err)
	}

	if voice == "" {
		voice = a.cfg.DubberVoice
	}
	if language == "" {
		language = a.cfg.DubberLanguage
	}

	taskID, err := a.dub.Generate(ctx, dubber.GenerateRequest{
		Title:       title,
		Script:      script,
		Voice:       voice,
		Language:    language,
		AudioFormat: "flac",
	})
	if err != nil {
		return err
	}
	log.Printf("Dubbing task %s submitted (%d lines)", taskID, len(script))

	segs, err := a.dub.PollUntilDone(ctx, taskID, 2*time.Second)
	if err != nil {
		return err
	}
	if err := a.store.Load(ctx, segs); err != nil {
		return err
	}
	log.Printf("Loaded %d generated segments", a.store.Count())
	return nil
}

// exportStatus shapes the controller state for the API. While segments are
// still decoding the state reads as "loading" rather than "idle".
func (a *app) exportStatus() map[string]any {
	state := a.controller.StateNow().String()
	if state == export.Idle.String() && !a.store.Ready() {
		state = "loading"
	}
	st := map[string]any{
		"state":   state,
		"percent": a.controller.Percent(),
	}
	if err := a.controller.Err(); err != nil {
		st["error"] = err.Error()
	}
	return st
}
