package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"wellbooks/internal/amqp"
	"wellbooks/internal/cli"
	"wellbooks/internal/log"
	"wellbooks/internal/services"
)

func main() {
	cli.LoadEnvFile()

	// Command output goes to stdout; diagnostics go to stderr, warnings only
	// unless CLI_LOG_LEVEL says otherwise.
	level := os.Getenv("CLI_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger := log.New(log.Config{Level: log.ParseLevel(level), Component: log.ComponentApp, Output: os.Stderr})
	log.SetDefault(logger)

	cfg := cli.LoadAndValidateConfig(logger)
	result := cli.OpenBackend(logger, cfg)
	defer result.Cleanup()

	var publisher services.EventPublisher
	if cfg.AMQPURL != "" && os.Getenv("CLI_PUBLISH") != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, "")
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, events will not be published", log.FieldError, err)
		} else {
			defer client.Close()
			publisher = client
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Store:     result.Store,
		Publisher: publisher,
		Out:       os.Stdout,
		Err:       os.Stderr,
	}
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		code := 1
		if errors.Is(err, cli.ErrUsage) {
			code = 2
		} else {
			color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		_ = result.Cleanup()
		os.Exit(code)
	}
}
