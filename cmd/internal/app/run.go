package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/orderdesk.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, nil)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
