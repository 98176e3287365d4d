package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jrsteele09/go-chat-server/internal/logging"
	"github.com/urfave/cli/v3"
)

// NewApp builds the chat command line client.
func NewApp(flags *Flags, version string) *cli.Command {
	app := &cli.Command{
		Name:      "chat",
		Usage:     "Talk to the chat server",
		UsageText: "chat [global options] command [command options]",
		Description: `chat lists and creates chat rooms, fetches disposable messaging credentials and
joins a room to send and receive messages in real time.

Commands that call the API need an identity token, passed with --id-token or CHAT_ID_TOKEN.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("CHAT_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "api-url",
				Usage:       "base URL of the chat API",
				Sources:     cli.EnvVars("CHAT_API_URL"),
				Value:       "http://localhost:8080",
				Destination: &flags.APIURL,
			},
			&cli.StringFlag{
				Name:        "id-token",
				Usage:       "identity token presented to the API",
				Sources:     cli.EnvVars("CHAT_ID_TOKEN"),
				Destination: &flags.IdentityToken,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := logging.SetupWriter(os.Stderr, flags.LogLevel, "console"); err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			flags.connect(ctx)
			return ctx, nil
		},
	}

	app = NewRoomsCmd(flags).Register(app)
	app = NewTokenCmd(flags).Register(app)
	app = NewJoinCmd(flags).Register(app)
	app = NewDevCmd(flags).Register(app)
	return app
}
