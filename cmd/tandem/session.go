package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fablehaus/tandem/internal/bus"
	"github.com/fablehaus/tandem/internal/config"
	"github.com/fablehaus/tandem/internal/endpoint"
	"github.com/fablehaus/tandem/internal/logger"
	"github.com/fablehaus/tandem/internal/playback"
	"github.com/fablehaus/tandem/internal/player"
	"github.com/fablehaus/tandem/internal/protocol"
	"github.com/fablehaus/tandem/internal/server"
	"github.com/fablehaus/tandem/internal/store"
	"github.com/fablehaus/tandem/internal/window"
)

// runPlay wires the full primary session: audio element, playback
// controller, sync endpoint with an in-process pop-out spawner, progress
// mirror and the HTTP control server.
func runPlay(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	log.Info("Starting tandem", map[string]interface{}{
		"version":      version,
		"sync_channel": cfg.Sync.Channel,
		"relay_url":    cfg.Sync.RelayURL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence for progress and bookmarks.
	db, err := store.NewDatabase(cfg.Paths.DatabaseFile, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	repo := store.NewRepository(db, log)

	// The broadcast medium. In-process by default; a relay URL switches
	// to a websocket channel shared across processes. Failing to reach
	// the relay degrades to a single un-synced window rather than
	// refusing to play.
	memBus := bus.NewMemoryBus()
	openChannel := func(ctx context.Context) bus.Channel {
		if cfg.Sync.RelayURL == "" {
			return memBus.Open(cfg.Sync.Channel)
		}
		ch, err := bus.DialRelay(ctx, cfg.Sync.RelayURL, cfg.Sync.Channel)
		if err != nil {
			log.Warn("Relay unreachable, window sync disabled", map[string]interface{}{
				"relay_url": cfg.Sync.RelayURL,
				"error":     err.Error(),
			})
			return nil
		}
		return ch
	}

	ctrl := player.New(player.Config{
		Element:     player.NewSimElement(player.WithTick(cfg.Player.Tick)),
		SkipSeconds: cfg.Player.SkipSeconds,
		GuardMaxAge: cfg.Sync.GuardMaxAge,
		Logger:      log,
	})
	defer ctrl.Close()

	spawner := &window.InProcSpawner{
		Run: func(ctx context.Context, launchURL string) error {
			return runSatellite(ctx, launchURL, cfg, openChannel(ctx), log)
		},
	}

	ep := endpoint.New(endpoint.Config{
		Role:           protocol.RolePrimary,
		Channel:        openChannel(ctx),
		Spawner:        spawner,
		PollInterval:   cfg.Sync.PollInterval,
		OnState:        ctrl.ApplyRemote,
		OnStateRequest: ctrl.RespondStateRequest,
		OnAttached: func(attached bool) {
			log.Info("Pop-out attachment changed", map[string]interface{}{
				"attached": attached,
			})
		},
		Logger: log,
	})
	defer ep.Close()

	// The controller's outbound messages go through the endpoint so they
	// carry the primary role stamp.
	ctrl.SetBroadcaster(ep)

	mirror := store.NewMirror(repo, store.DefaultMirrorInterval, log)
	ctrl.OnChange(mirror.Observe)
	defer mirror.Flush()

	srv := server.New(":"+cfg.Server.Port, ctrl, &popoutControl{ep: ep}, repo, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	ep.CloseSatellite()
	return nil
}

// runSatellite is the pop-out window's main loop: it decodes the bootstrap
// state from its launch URL, mirrors the primary through its own endpoint
// and controller, and announces itself on construction and teardown.
func runSatellite(ctx context.Context, launchURL string, cfg *config.Config, ch bus.Channel, log *logger.Logger) error {
	initial, ok := protocol.DecodeLaunchURL(launchURL)
	if !ok {
		log.Warn("Pop-out launched without usable bootstrap state", map[string]interface{}{
			"launch_url": launchURL,
		})
	}

	ctrl := player.New(player.Config{
		Element:     player.NewSimElement(player.WithTick(cfg.Player.Tick)),
		SkipSeconds: cfg.Player.SkipSeconds,
		GuardMaxAge: cfg.Sync.GuardMaxAge,
		Logger:      log,
	})
	defer ctrl.Close()

	ep := endpoint.New(endpoint.Config{
		Role:    protocol.RoleSatellite,
		Channel: ch,
		OnState: ctrl.ApplyRemote,
		Logger:  log,
	})
	defer ep.Close()

	ctrl.SetBroadcaster(ep)

	if ok {
		ctrl.ApplyRemote(initial.Snapshot())
	} else {
		// No bootstrap; ask the primary for a snapshot instead.
		ep.RequestState()
	}

	<-ctx.Done()
	return ctx.Err()
}

// popoutControl adapts the endpoint's pop-out lifecycle to the HTTP
// server's Popout interface.
type popoutControl struct {
	ep *endpoint.Endpoint
}

func (p *popoutControl) Attached() bool { return p.ep.Attached() }

func (p *popoutControl) Open(initial playback.State) bool {
	return p.ep.OpenSatellite(initial) != nil
}

func (p *popoutControl) Close() { p.ep.CloseSatellite() }

// runRelay serves the websocket relay that carries the sync channel across
// processes.
func runRelay(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	addr := c.String("addr")
	srv := &http.Server{
		Addr:        addr,
		Handler:     bus.NewHub(log),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting sync relay", map[string]interface{}{
			"addr": addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})
	case err := <-errCh:
		return fmt.Errorf("relay server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
