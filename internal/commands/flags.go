package commands

import (
	"context"
	"io"
	"os"

	"github.com/jrsteele09/go-chat-server/client"
)

type Flags struct {
	LogLevel      string
	APIURL        string
	IdentityToken string

	// Out and In default to stdout and stdin
	Out io.Writer
	In  io.Reader

	// Client is created in the Before hook and available to all commands
	Client *client.Client
}

func (f *Flags) out() io.Writer {
	if f.Out == nil {
		return os.Stdout
	}
	return f.Out
}

func (f *Flags) in() io.Reader {
	if f.In == nil {
		return os.Stdin
	}
	return f.In
}

func (f *Flags) connect(ctx context.Context) {
	f.Client = client.NewWithToken(ctx, f.APIURL, f.IdentityToken)
}
