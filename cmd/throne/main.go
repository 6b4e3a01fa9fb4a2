package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/lox/throne/internal/client"
)

// version is set by ldflags during build
var version = "dev"

// Globals are the connection flags shared by every command.
type Globals struct {
	Server   string        `default:"http://localhost:8080" env:"THRONE_SERVER" help:"Server URL"`
	As       string        `short:"i" env:"THRONE_IDENTITY" help:"Identity to act as"`
	Token    string        `env:"THRONE_OWNER_TOKEN" help:"Owner token, required when acting as the owner"`
	Timeout  time.Duration `default:"10s" help:"Request timeout"`
	LogLevel string        `default:"warn" enum:"debug,info,warn,error" help:"Log level"`
}

type CLI struct {
	Globals

	Version      kong.VersionFlag `short:"v" help:"Show version"`
	Claim        ClaimCmd         `cmd:"" help:"Pay to claim the throne"`
	Declare      DeclareCmd       `cmd:"" help:"Declare the winner once the grace period has elapsed"`
	Withdraw     WithdrawCmd      `cmd:"" help:"Withdraw your pending winnings"`
	WithdrawFees WithdrawFeesCmd  `cmd:"withdraw-fees" help:"Withdraw accumulated platform fees (owner)"`
	Reset        ResetCmd         `cmd:"" help:"Start a new round after a winner was declared (owner)"`
	State        StateCmd         `cmd:"" help:"Show the game state"`
	Pending      PendingCmd       `cmd:"" help:"Show pending winnings"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("throne"),
		kong.Description("Client for the last-claimant-wins pot game"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// session is a connected, optionally authenticated client.
type session struct {
	*client.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func (g *Globals) connect(requireIdentity bool) (*session, error) {
	if requireIdentity && g.As == "" {
		return nil, fmt.Errorf("--as is required for this command")
	}

	logger := log.New(os.Stderr)
	if level, err := log.ParseLevel(g.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	c := client.NewClient(g.Server, logger)
	if err := c.Connect(ctx); err != nil {
		cancel()
		return nil, err
	}
	if g.As != "" {
		if err := c.Auth(ctx, g.As, g.Token); err != nil {
			_ = c.Disconnect()
			cancel()
			return nil, err
		}
	}
	return &session{Client: c, ctx: ctx, cancel: cancel}, nil
}

func (s *session) Close() {
	_ = s.Disconnect()
	s.cancel()
}
