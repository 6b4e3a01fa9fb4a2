package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/throne/internal/config"
	"github.com/lox/throne/internal/journal"
	"github.com/lox/throne/internal/server"
	"github.com/lox/throne/internal/settler"
	"github.com/lox/throne/internal/snapshot"
	"github.com/lox/throne/internal/throne"
	"github.com/lox/throne/internal/wallet"
)

// version is set by ldflags during build
var version = "dev"

var CLI struct {
	Version    kong.VersionFlag `short:"v" help:"Show version"`
	Config     string           `short:"c" long:"config" default:"throne-server.hcl" help:"Path to HCL configuration file"`
	Addr       string           `short:"a" long:"addr" help:"Server address to bind to (overrides config)"`
	LogLevel   string           `short:"l" long:"log-level" help:"Log level (overrides config)"`
	NoSettle   bool             `long:"no-settle" help:"Disable automatic winner declaration"`
	OwnerToken string           `long:"owner-token" env:"THRONE_OWNER_TOKEN" help:"Token required to authenticate as the owner (overrides config)"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("throne-server"),
		kong.Description("Authoritative server for the last-claimant-wins pot game"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	// Load configuration
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		ctx.Exit(1)
	}

	// Apply command line overrides
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.NoSettle {
		disabled := false
		cfg.Game.AutoSettle = &disabled
	}
	if CLI.OwnerToken != "" {
		cfg.Server.OwnerToken = CLI.OwnerToken
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		ctx.Exit(1)
	}

	addr := cfg.Address()
	if CLI.Addr != "" {
		addr = CLI.Addr
	}

	// Setup logging
	logger := log.New(os.Stderr)
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	if cfg.EnsureOwnerToken() {
		logger.Warn("No owner token configured, generated one for this run", "ownerToken", cfg.Server.OwnerToken)
	}

	if err := run(cfg, addr, logger); err != nil {
		logger.Error("Server failed", "error", err)
		ctx.Exit(1)
	}
}

func run(cfg *config.Config, addr string, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameCfg, err := cfg.ThroneConfig()
	if err != nil {
		return err
	}
	snapshotEvery, err := cfg.SnapshotInterval()
	if err != nil {
		return err
	}

	w := wallet.New(logger)
	for id, balance := range cfg.Wallet.Balances {
		if err := w.Deposit(throne.Identity(id), uint64(balance)); err != nil {
			return fmt.Errorf("wallet: seed %s: %w", id, err)
		}
	}

	clock := quartz.NewReal()
	opts := []throne.Option{
		throne.WithClock(clock),
		throne.WithLogger(logger),
		throne.WithTransferer(w),
	}

	game, err := loadGame(cfg, gameCfg, logger, opts)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithOwnerToken(cfg.Server.OwnerToken),
		server.WithCollector(w),
	}

	if path := cfg.Storage.JournalDB; path != "" {
		j, err := journal.Open(path, logger)
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()
		last, err := j.LastSeq(ctx)
		if err != nil {
			return err
		}
		if last > game.Seq() {
			logger.Warn("Journal is ahead of the restored game, sequence numbers will repeat under a new session",
				"journalSeq", last,
				"gameSeq", game.Seq(),
				"session", j.Session())
		}
		game.Subscribe(j)
		serverOpts = append(serverOpts, server.WithEventStore(j))
		g.Go(func() error { return j.Run(ctx) })
	}

	var saver *snapshot.Saver
	if path := cfg.Storage.SnapshotFile; path != "" {
		saver = snapshot.NewSaver(game, path, snapshotEvery, clock, logger)
		g.Go(func() error { return saver.Run(ctx) })
	}

	if cfg.AutoSettle() {
		s := settler.New(game, clock, logger)
		g.Go(func() error { return s.Run(ctx) })
	}

	srv := server.NewServer(addr, game, serverOpts...)
	g.Go(func() error { return srv.Run(ctx) })

	logger.Info("Starting throne server",
		"addr", addr,
		"owner", game.Owner(),
		"round", game.Round(),
		"claimFee", game.ClaimFee(),
		"autoSettle", cfg.AutoSettle())

	err = g.Wait()

	// The server has finished every request by now, so this captures
	// whatever happened after the saver's own shutdown snapshot.
	if saver != nil {
		if serr := saver.SaveNow(); serr != nil {
			logger.Error("Final snapshot failed", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}
	return err
}

// loadGame restores the game from its snapshot when one exists.
func loadGame(cfg *config.Config, gameCfg throne.Config, logger *log.Logger, opts []throne.Option) (*throne.Game, error) {
	path := cfg.Storage.SnapshotFile
	if path == "" {
		return throne.New(gameCfg, opts...)
	}

	state, ok, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return throne.New(gameCfg, opts...)
	}
	if state.Config != gameCfg {
		logger.Warn("Snapshot configuration differs from config file, keeping snapshot values",
			"snapshotOwner", state.Config.Owner,
			"configOwner", gameCfg.Owner)
	}
	return throne.Restore(state, opts...)
}
