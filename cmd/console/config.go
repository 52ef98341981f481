package main

import (
	"os"
	"path/filepath"
	"strings"

	"fleetdash/internal/config"
)

// Flags are command line overrides on top of the loaded config
type Flags struct {
	APIURL  string
	PushURL string
	Email   string
	Screens string
	Rows    int
	Logout  bool
}

func (f Flags) apply(cfg *config.Config) {
	if f.APIURL != "" {
		cfg.API.BaseURL = f.APIURL
	}
	if f.PushURL != "" {
		cfg.Channel.URL = f.PushURL
	}
	if f.Rows > 0 {
		cfg.Console.Rows = f.Rows
	}
	if cfg.API.SessionPath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.API.SessionPath = filepath.Join(dir, "fleetdash", "session.json")
		}
	}
}

func (f Flags) screens() []string {
	var res []string
	for _, s := range strings.Split(f.Screens, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			res = append(res, s)
		}
	}
	return res
}

// openLog keeps log output off the drawn terminal
func openLog(cfg config.Config) (*os.File, error) {
	dir := filepath.Dir(cfg.API.SessionPath)
	if cfg.API.SessionPath == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "console.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
