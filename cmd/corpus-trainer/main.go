package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/corpus-trainer/cmd/corpus-trainer/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(commands.ExecuteContext(ctx))
}
