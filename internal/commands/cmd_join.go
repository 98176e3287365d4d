package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jrsteele09/go-chat-server/session"
	"github.com/jrsteele09/go-chat-server/transport/wsclient"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

type JoinCmd struct {
	flags *Flags
}

// NewJoinCmd creates a new join command.
func NewJoinCmd(flags *Flags) *JoinCmd {
	return &JoinCmd{flags: flags}
}

// Register adds the join command to the application.
func (cmd *JoinCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "join",
		Usage:     "Join a room and chat from the terminal",
		UsageText: "chat join <room>",
		Description: `Requests a disposable credential, subscribes to the room's topic and prints every
message as it arrives. Each line read from stdin is published to the room.

The session ends on Ctrl-C, at end of input, or when the credential expires.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *JoinCmd) run(ctx context.Context, c *cli.Command) error {
	room := c.Args().First()
	if room == "" {
		return errors.New("room name is required")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cred, err := cmd.flags.Client.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	gateway, err := wsclient.New(cred.Endpoint)
	if err != nil {
		return fmt.Errorf("messaging endpoint: %w", err)
	}

	sess, err := session.Open(ctx, gateway, *cred, cred.Namespace, room,
		session.WithLogger(log.With().Str("room", room).Logger()))
	if err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	defer sess.Close()

	out := cmd.flags.out()
	fmt.Fprintf(out, "Joined %s until %s\n", room, cred.ExpiresAt.Local().Format(time.Kitchen))

	go func() {
		for msg := range sess.Messages() {
			fmt.Fprintf(out, "[%s] %s: %s\n", msg.PublishedAt.Local().Format(time.TimeOnly), msg.PublisherID, msg.Payload)
		}
	}()

	inputDone := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(cmd.flags.in())
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := sess.Send(ctx, []byte(line)); err != nil {
				inputDone <- err
				return
			}
		}
		inputDone <- scanner.Err()
	}()

	select {
	case <-ctx.Done():
	case err := <-inputDone:
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
	case <-sess.Done():
	}

	if sess.State() == session.StateFailed {
		return fmt.Errorf("session ended: %w", sess.Err())
	}
	return nil
}
