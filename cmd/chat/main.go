package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jrsteele09/go-chat-server/internal/commands"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func main() {
	app := commands.NewApp(&commands.Flags{}, fmt.Sprintf("%s (%s)", version, commit))
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
