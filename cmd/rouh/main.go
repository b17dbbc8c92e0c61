// File: cmd/rouh/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/miraiminds/rouh/cmd"
	"github.com/miraiminds/rouh/internal/observability"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		osExit(1)
	}
}
