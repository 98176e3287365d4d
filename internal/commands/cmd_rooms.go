package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-chat-server/chats"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

type RoomsCmd struct {
	flags *Flags
}

// NewRoomsCmd creates a new rooms command.
func NewRoomsCmd(flags *Flags) *RoomsCmd {
	return &RoomsCmd{flags: flags}
}

// Register adds the rooms command to the application.
func (cmd *RoomsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "rooms",
		Usage: "List and create chat rooms",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List chat rooms",
				UsageText: "chat rooms ls",
				Action:    cmd.runList,
			},
			{
				Name:      "create",
				Usage:     "Create a chat room",
				UsageText: "chat rooms create <name>",
				Action:    cmd.runCreate,
			},
		},
	})

	return app
}

func (cmd *RoomsCmd) runList(ctx context.Context, c *cli.Command) error {
	names, err := cmd.flags.Client.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.flags.out(), "No rooms found")
		return nil
	}

	table := tablewriter.NewWriter(cmd.flags.out())
	table.SetHeader([]string{"Room"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	for _, name := range names {
		table.Append([]string{name})
	}
	table.Render()
	return nil
}

func (cmd *RoomsCmd) runCreate(ctx context.Context, c *cli.Command) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("room name is required")
	}

	if err := cmd.flags.Client.CreateChat(ctx, name); err != nil {
		var conflict *chats.ConflictError
		if errors.As(err, &conflict) {
			return fmt.Errorf("room %q: %w", name, conflict)
		}
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Fprintf(cmd.flags.out(), "Created room %s\n", name)
	return nil
}
