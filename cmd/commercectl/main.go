package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmehra2102/lumina-commerce/internal/cli"
	"github.com/dmehra2102/lumina-commerce/pkg/shutdown"
)

func main() {
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
