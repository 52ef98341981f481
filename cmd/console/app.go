package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fleetdash/internal/channel"
	"fleetdash/internal/config"
	"fleetdash/internal/log"
	"fleetdash/internal/render"
	"fleetdash/internal/rest"
	"fleetdash/internal/screen"
	"fleetdash/internal/session"
)

// ErrSessionExpired ends a run after the backend rejected the token
var ErrSessionExpired = errors.New("session expired")

func Run(
	ctx context.Context, cfg config.Config, flags Flags, in *lineReader,
	logger *slog.Logger,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger = logger.With(slog.String("run", uuid.NewString()))
	toasts := screen.NewToasts(0)
	expired := make(chan struct{})
	var expireOnce sync.Once
	var signedIn atomic.Bool

	sess := session.New(cfg.API.SessionPath)
	api := rest.New(cfg.API.BaseURL, sess,
		rest.WithTimeout(cfg.API.Timeout),
		rest.WithLogger(logger),
		rest.WithUnauthorizedHook(func() {
			if signedIn.Load() {
				expireOnce.Do(func() { close(expired) })
			}
		}),
	)
	if flags.Logout {
		return sess.Clear()
	}

	if err := ensureSession(ctx, api, in, os.Stdout, flags.Email, logger); err != nil {
		return err
	}
	signedIn.Store(true)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+sess.Token())
	provider := channel.NewProvider(&channel.WSTransport{
		URL:              cfg.Channel.URL,
		HandshakeTimeout: cfg.Channel.ConnectTimeout,
		Header:           header,
	}, channelConfig(cfg, logger))
	defer provider.Shutdown()
	mgr := provider.Manager()
	stopErrors := screen.WatchErrors(mgr, toasts)
	defer stopErrors()

	deps := screen.Deps{
		Channel: mgr,
		API:     api,
		Toasts:  toasts,
		Logger:  logger,
	}
	views, err := mountScreens(ctx, flags.screens(), deps, api)
	if err != nil {
		return err
	}
	defer func() {
		for _, v := range views {
			v.screen.Unmount()
		}
	}()

	// UI init
	ui, err := render.NewInPlaceUI(os.Stdout)
	if err != nil {
		logger.Warn("UI init failed, falling back to plain output", log.Error(err))
		ui = nil
	}
	if ui != nil {
		defer ui.Close()
	}

	redraw := make(chan struct{}, 1)
	poke := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}
	stop := mgr.OnStatus(func(channel.Status) { poke() })
	defer stop()

	mgr.Connect()

	go commands(ctx, in, mgr, views, toasts, logger, poke)

	rows := render.Rows(os.Stdout, cfg.Console.Rows)
	ticker := time.NewTicker(cfg.Console.Interval)
	defer ticker.Stop()
	for {
		vm := render.ViewModel{
			Now:     time.Now(),
			PushURL: cfg.Channel.URL,
			Status:  mgr.Status(),
			Rooms:   mgr.Rooms(),
			Session: sess.Email(),
			Toasts:  toasts.Recent(cfg.Console.Toasts),
		}
		for _, v := range views {
			vm.Screens = append(vm.Screens, v.sections(rows)...)
		}
		out := render.Render(vm)
		if ui != nil {
			_ = ui.Draw(out)
		} else {
			fmt.Print(out)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			logger.Warn("Session expired")
			return ErrSessionExpired
		case <-ticker.C:
		case <-redraw:
		}
	}
}

// commands reads console commands from stdin until ctx ends, see
// parseCommand for the syntax
func commands(
	ctx context.Context, in *lineReader, conn connector, views []view,
	toasts *screen.Toasts, logger *slog.Logger, poke func(),
) {
	for {
		line, err := in.ReadLine(ctx)
		if err != nil {
			return
		}
		if line == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err == nil {
			err = execute(ctx, cmd, conn, views)
		}
		switch {
		case errors.Is(err, errBadCommand):
			toasts.Error(err.Error())
		case err != nil:
			logger.Debug("Command failed",
				slog.String("command", line),
				log.Error(err))
		}
		poke()
	}
}

func channelConfig(cfg config.Config, logger *slog.Logger) channel.Config {
	return channel.Config{
		Page:              cfg.Channel.Page,
		ConnectTimeout:    cfg.Channel.ConnectTimeout,
		HeartbeatInterval: cfg.Channel.Heartbeat,
		Reconnect: channel.Policy{
			MaxAttempts:  cfg.Channel.MaxAttempts,
			InitialDelay: cfg.Channel.InitialDelay,
			MaxDelay:     cfg.Channel.MaxDelay,
		},
		Logger: logger,
	}
}
