package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/lucid-fabrics/proxmac/internal/command"
)

func main() {
	// Set up a signal-interruptible context
	ctx, cancel := context.WithCancel(context.Background())

	interruptCh := make(chan os.Signal, 1)
	signal.Notify(interruptCh, os.Interrupt)

	go func() {
		select {
		case <-interruptCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run the command
	if err := command.NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}
