package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-chat-server/token"
	"github.com/urfave/cli/v3"
)

type TokenCmd struct {
	flags *Flags
}

// NewTokenCmd creates a new token command.
func NewTokenCmd(flags *Flags) *TokenCmd {
	return &TokenCmd{flags: flags}
}

// Register adds the token command to the application.
func (cmd *TokenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "token",
		Usage:     "Request a disposable messaging credential",
		UsageText: "chat token",
		Description: `Requests a disposable credential and prints where and for how long it can be used.
The token itself is shown only as a fingerprint.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *TokenCmd) run(ctx context.Context, c *cli.Command) error {
	cred, err := cmd.flags.Client.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	out := cmd.flags.out()
	fmt.Fprintf(out, "endpoint:    %s\n", cred.Endpoint)
	fmt.Fprintf(out, "namespace:   %s\n", cred.Namespace)
	fmt.Fprintf(out, "fingerprint: %s\n", token.Fingerprint(cred.Token))
	fmt.Fprintf(out, "expires:     %s (in %s)\n", cred.ExpiresAt.Format(time.RFC3339), time.Until(cred.ExpiresAt).Round(time.Second))
	return nil
}
