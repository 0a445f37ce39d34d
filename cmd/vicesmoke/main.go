package main

import (
	"context"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/c64bridge/vicebridge/vice"
	"github.com/c64bridge/vicebridge/vice/cmd"
	"github.com/c64bridge/vicebridge/vice/vicetest"
)

const pprofDebug = false

// mockTarget serves a stage from the in-process monitor.
type mockTarget struct {
	*vicetest.Server
}

func (m mockTarget) Stop() error {
	return m.Close()
}

func mockLauncher(ctx context.Context, cfg vice.EmulatorConfig) (vice.Target, error) {
	srv, err := vicetest.Start(ctx, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, err
	}
	return mockTarget{srv}, nil
}

func main() {
	log.SetFlags(log.LstdFlags)

	if pprofDebug {
		go func() {
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Printf("pprof server failure: %v", err)
			}
		}()
	}

	config, err := cmd.ParseFlags(nil)
	if err != nil {
		log.Fatalf("%s%v", vice.ErrorLogPrefix, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	var storage vice.Storage
	if config.StorageDir != "" {
		if storage, err = vice.NewBadgerStorage(config.StorageDir, vice.BadgerOptions{}); err != nil {
			log.Fatalf("%s%v", vice.ErrorLogPrefix, err)
		}
		defer func() { _ = storage.Close() }()
	}

	launch := vice.EmulatorLauncher
	if config.Mock {
		launch = mockLauncher
	}
	runner := vice.NewSmokeRunner(config, launch, storage)
	runner.MonitorAutostart = config.Mock
	err = runner.Run(ctx)
	_ = runner.Timings().WriteSummary(os.Stdout)
	if err != nil {
		stop()
		if storage != nil {
			_ = storage.Close()
		}
		log.Fatalf("%s%v", vice.ErrorLogPrefix, err)
	}
	log.Println("Smoke test passed")
}
