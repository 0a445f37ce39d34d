package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/c64bridge/vicebridge/vice"
	"github.com/c64bridge/vicebridge/vice/vicetest"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	addr := flag.String("addr", "127.0.0.1:6502", "Address to serve the mock binary monitor on")
	output := flag.String("run-output", vicetest.RunOutput, "Text a typed RUN command prints")
	flag.Parse()
	vicetest.RunOutput = *output

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	srv, err := vicetest.Start(ctx, *addr)
	if err != nil {
		log.Fatalf("%sFailed to start mock monitor: %v", vice.ErrorLogPrefix, err)
	}
	if err := srv.Wait(); err != nil {
		log.Fatalf("%sMock monitor failed: %v", vice.ErrorLogPrefix, err)
	}
	log.Println("Mock monitor stopped")
}
