// Package config loads the server's HCL configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/throne/internal/throne"
)

const (
	defaultAddress       = "localhost"
	defaultPort          = 8080
	defaultLogLevel      = "info"
	defaultOwner         = "house"
	defaultClaimFee      = 100
	defaultGracePeriod   = "24h"
	defaultFeeIncrease   = 10
	defaultPlatformFee   = 5
	defaultSnapshotFile  = "throne-state.json"
	defaultJournalDB     = "throne-journal.db"
	defaultSnapshotEvery = "30s"
)

// Config represents the complete server configuration
type Config struct {
	Server  *ServerSettings  `hcl:"server,block"`
	Game    *GameSettings    `hcl:"game,block"`
	Storage *StorageSettings `hcl:"storage,block"`
	Wallet  *WalletSettings  `hcl:"wallet,block"`
}

// ServerSettings contains listener and logging configuration
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
	// OwnerToken must accompany an auth request for the owner. The server
	// generates one at startup when it is left empty.
	OwnerToken string `hcl:"owner_token,optional"`
}

// GameSettings holds the values the game is created with
type GameSettings struct {
	Owner                 string `hcl:"owner,optional"`
	InitialClaimFee       int    `hcl:"initial_claim_fee,optional"`
	GracePeriod           string `hcl:"grace_period,optional"`
	FeeIncreasePercentage *int   `hcl:"fee_increase_percentage,optional"`
	PlatformFeePercentage *int   `hcl:"platform_fee_percentage,optional"`
	AutoSettle            *bool  `hcl:"auto_settle,optional"`
}

// StorageSettings locates the snapshot file and the event journal. Empty
// paths disable the corresponding store.
type StorageSettings struct {
	SnapshotFile     string `hcl:"snapshot_file,optional"`
	SnapshotInterval string `hcl:"snapshot_interval,optional"`
	JournalDB        string `hcl:"journal_db,optional"`
}

// WalletSettings seeds the in-memory wallet that funds claims and receives
// withdrawals.
type WalletSettings struct {
	Balances map[string]int `hcl:"balances,optional"`
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: &ServerSettings{
			Address:  defaultAddress,
			Port:     defaultPort,
			LogLevel: defaultLogLevel,
		},
		Game: &GameSettings{
			Owner:                 defaultOwner,
			InitialClaimFee:       defaultClaimFee,
			GracePeriod:           defaultGracePeriod,
			FeeIncreasePercentage: intPtr(defaultFeeIncrease),
			PlatformFeePercentage: intPtr(defaultPlatformFee),
			AutoSettle:            boolPtr(true),
		},
		Storage: &StorageSettings{
			SnapshotFile:     defaultSnapshotFile,
			SnapshotInterval: defaultSnapshotEvery,
			JournalDB:        defaultJournalDB,
		},
		Wallet: &WalletSettings{},
	}
}

// Load loads configuration from an HCL file. A missing file yields the
// defaults.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}
	return decode(file)
}

// Parse decodes configuration from HCL source held in memory.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}
	return decode(file)
}

func decode(file *hcl.File) (*Config, error) {
	var config Config
	diags := gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}
	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server == nil {
		c.Server = defaults.Server
	}
	if c.Server.Address == "" {
		c.Server.Address = defaults.Server.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaults.Server.LogLevel
	}

	if c.Game == nil {
		c.Game = defaults.Game
	}
	if c.Game.Owner == "" {
		c.Game.Owner = defaults.Game.Owner
	}
	if c.Game.InitialClaimFee == 0 {
		c.Game.InitialClaimFee = defaults.Game.InitialClaimFee
	}
	if c.Game.GracePeriod == "" {
		c.Game.GracePeriod = defaults.Game.GracePeriod
	}
	// Zero is a legitimate percentage, so only unset values get defaults.
	if c.Game.FeeIncreasePercentage == nil {
		c.Game.FeeIncreasePercentage = defaults.Game.FeeIncreasePercentage
	}
	if c.Game.PlatformFeePercentage == nil {
		c.Game.PlatformFeePercentage = defaults.Game.PlatformFeePercentage
	}
	if c.Game.AutoSettle == nil {
		c.Game.AutoSettle = defaults.Game.AutoSettle
	}

	if c.Storage == nil {
		c.Storage = defaults.Storage
	}
	if c.Storage.SnapshotInterval == "" {
		c.Storage.SnapshotInterval = defaults.Storage.SnapshotInterval
	}

	if c.Wallet == nil {
		c.Wallet = &WalletSettings{}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	if c.Game.InitialClaimFee < 0 {
		return fmt.Errorf("game: initial claim fee must not be negative")
	}
	if *c.Game.FeeIncreasePercentage < 0 {
		return fmt.Errorf("game: fee increase percentage must not be negative")
	}
	if *c.Game.PlatformFeePercentage < 0 {
		return fmt.Errorf("game: platform fee percentage must not be negative")
	}
	if _, err := c.ThroneConfig(); err != nil {
		return err
	}

	if _, err := c.SnapshotInterval(); err != nil {
		return err
	}

	for id, balance := range c.Wallet.Balances {
		if id == "" {
			return fmt.Errorf("wallet: empty identity")
		}
		if balance < 0 {
			return fmt.Errorf("wallet: balance for %q must not be negative", id)
		}
	}

	return nil
}

// ThroneConfig converts the game block into the game's own configuration.
func (c *Config) ThroneConfig() (throne.Config, error) {
	grace, err := time.ParseDuration(c.Game.GracePeriod)
	if err != nil {
		return throne.Config{}, fmt.Errorf("game: invalid grace period %q: %w", c.Game.GracePeriod, err)
	}

	cfg := throne.Config{
		Owner:                 throne.Identity(c.Game.Owner),
		InitialClaimFee:       uint64(c.Game.InitialClaimFee),
		GracePeriod:           grace,
		FeeIncreasePercentage: uint64(*c.Game.FeeIncreasePercentage),
		PlatformFeePercentage: uint64(*c.Game.PlatformFeePercentage),
	}
	if err := cfg.Validate(); err != nil {
		return throne.Config{}, fmt.Errorf("game: %w", err)
	}
	return cfg, nil
}

// EnsureOwnerToken generates a random owner token when none is configured
// and reports whether it did.
func (c *Config) EnsureOwnerToken() bool {
	if c.Server.OwnerToken != "" {
		return false
	}
	c.Server.OwnerToken = uuid.NewString()
	return true
}

// AutoSettle reports whether the server declares winners itself once the
// grace period lapses.
func (c *Config) AutoSettle() bool {
	return c.Game.AutoSettle == nil || *c.Game.AutoSettle
}

// SnapshotInterval returns how often the server snapshots the game.
func (c *Config) SnapshotInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Storage.SnapshotInterval)
	if err != nil {
		return 0, fmt.Errorf("storage: invalid snapshot interval %q: %w", c.Storage.SnapshotInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("storage: snapshot interval must be positive")
	}
	return d, nil
}

// Address returns the full listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
