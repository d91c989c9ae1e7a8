package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"

	"github.com/opalmesh/fleetup/fleet"
	"github.com/opalmesh/fleetup/fleetapi"
)

func main() {
	p := flags.NewParser(&opts, flags.Default)

	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Println("cli error:", err)
		}

		os.Exit(2)
	}

	logger := setupLogger()

	conf, err := loadConfig(logger)
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	orch := setupFleet(conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-interrupt
		level.Info(logger).Log("msg", "received interrupt signal, shutting down")
		cancel()
	}()

	switch {
	case opts.Serve:
		err = fleetapi.StartServer(ctx, orch, logger, opts.API.BindAddr)
	case opts.Down:
		err = orch.Down(ctx)
	case opts.Status:
		err = printStatus(ctx, orch)
	default:
		// a partial bring-up still exits zero: the summary names the
		// nodes that need attention, and the fleet is usable without them
		_, err = orch.Up(ctx, fleet.UpOptions{Fresh: opts.Fresh})
	}

	if err != nil {
		level.Error(logger).Log("msg", "command failed", "err", err)
		os.Exit(1)
	}
}
