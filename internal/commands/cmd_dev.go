package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/secrets"
	"github.com/urfave/cli/v3"
)

// DevCmd groups operator helpers that do not call the API.
type DevCmd struct {
	flags *Flags

	// sign-token flags
	secret  string
	subject string
	email   string
	ttl     time.Duration

	// seal flags
	recipients []string
	output     string
}

// NewDevCmd creates a new dev command.
func NewDevCmd(flags *Flags) *DevCmd {
	return &DevCmd{flags: flags}
}

// Register adds the dev command to the application.
func (cmd *DevCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "dev",
		Usage: "Operator and local development helpers",
		Commands: []*cli.Command{
			{
				Name:      "hash-key",
				Usage:     "Hash an administrative API key for BROKER_ADMIN_KEY_HASH",
				UsageText: "echo $CHAT_ADMIN_API_KEY | chat dev hash-key",
				Action:    cmd.runHashKey,
			},
			{
				Name:      "sign-token",
				Usage:     "Sign an HS256 identity token accepted when AUTH_JWT_SECRET_REF is used",
				UsageText: "chat dev sign-token --subject alice",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "secret",
						Usage:       "shared HS256 secret",
						Sources:     cli.EnvVars("CHAT_AUTH_JWT_SECRET"),
						Required:    true,
						Destination: &cmd.secret,
					},
					&cli.StringFlag{
						Name:        "subject",
						Usage:       "caller subject",
						Required:    true,
						Destination: &cmd.subject,
					},
					&cli.StringFlag{
						Name:        "email",
						Usage:       "caller email",
						Destination: &cmd.email,
					},
					&cli.DurationFlag{
						Name:        "ttl",
						Usage:       "token lifetime",
						Value:       time.Hour,
						Destination: &cmd.ttl,
					},
				},
				Action: cmd.runSignToken,
			},
			{
				Name:      "seal",
				Usage:     "Encrypt a secret read from stdin for an age: reference",
				UsageText: "echo $CHAT_ADMIN_API_KEY | chat dev seal -r age1... -o admin-key.age",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:        "recipient",
						Aliases:     []string{"r"},
						Usage:       "age recipient public key",
						Required:    true,
						Destination: &cmd.recipients,
					},
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Usage:       "file to write the ciphertext to",
						Required:    true,
						Destination: &cmd.output,
					},
				},
				Action: cmd.runSeal,
			},
		},
	})

	return app
}

func (cmd *DevCmd) readSecret() (string, error) {
	line, err := bufio.NewReader(cmd.flags.in()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("expected the secret on stdin")
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", errors.New("expected the secret on stdin")
	}
	return secret, nil
}

func (cmd *DevCmd) runHashKey(ctx context.Context, c *cli.Command) error {
	apiKey, err := cmd.readSecret()
	if err != nil {
		return err
	}
	hash, err := broker.HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.flags.out(), hash)
	return nil
}

func (cmd *DevCmd) runSignToken(ctx context.Context, c *cli.Command) error {
	tok, err := identity.SignHMAC(cmd.secret, identity.Identity{Subject: cmd.subject, Email: cmd.email}, cmd.ttl, time.Now())
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(cmd.flags.out(), tok)
	return nil
}

func (cmd *DevCmd) runSeal(ctx context.Context, c *cli.Command) error {
	value, err := cmd.readSecret()
	if err != nil {
		return err
	}
	sealed, err := secrets.Seal(value, cmd.recipients...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cmd.output, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", cmd.output, err)
	}
	fmt.Fprintf(cmd.flags.out(), "Wrote %s; reference it as age:%s\n", cmd.output, cmd.output)
	return nil
}
