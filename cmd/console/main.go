package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fleetdash/internal/config"
	"fleetdash/internal/log"
)

func main() {
	path := flag.String("config", os.Getenv("FLEETDASH_CONFIG"), "yaml config file")
	flags := Flags{}
	flag.StringVar(&flags.APIURL, "api", "", "rest api base url (overrides config)")
	flag.StringVar(&flags.PushURL, "push", "", "push channel ws url (overrides config)")
	flag.StringVar(&flags.Email, "email", "", "admin email used when no session is stored")
	flag.StringVar(&flags.Screens, "screens", "dashboard,vehicles,drivers,admins,rides,billing", "comma separated screens to mount")
	flag.IntVar(&flags.Rows, "rows", 0, "rows per table (overrides config)")
	flag.BoolVar(&flags.Logout, "logout", false, "forget the stored session and exit")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(2)
	}
	flags.apply(&cfg)

	logFile, err := openLog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(2)
	}
	defer logFile.Close()
	logger := log.NewWithWriter(logFile, "console", log.ParseLevel(cfg.Log.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// shutdown signals
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	in := newLineReader(os.Stdin)
	err = Run(ctx, cfg, flags, in, logger)
	for errors.Is(err, ErrSessionExpired) && ctx.Err() == nil {
		fmt.Fprintln(os.Stdout, "Session expired, please sign in again.")
		flags.Email = ""
		err = Run(ctx, cfg, flags, in, logger)
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("Console stopped", log.Error(err))
		fmt.Fprintf(os.Stderr, "console error: %v\n", err)
		os.Exit(1)
	}
}
