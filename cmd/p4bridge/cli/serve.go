package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frobware/go-p4bridge/config"
	"github.com/frobware/go-p4bridge/server"
)

// ServeCmd starts the bridge daemon.
type ServeCmd struct {
	Listen       string       `name:"listen" help:"P4Runtime listen address (host:port or unix:/path). Overrides bridge.listen."`
	P4Info       string       `name:"p4info" help:"P4Info file to install at startup. Overrides bridge.p4info."`
	Program      string       `name:"program" help:"Evaluator program (SQL). Overrides bridge.program."`
	Switch       SwitchTarget `name:"switch" help:"OpenFlow switch (tcp:host:port or unix:/path). Overrides switch.target."`
	DeviceID     *uint64      `name:"device-id" help:"P4Runtime device id. Overrides bridge.device_id."`
	RuntimeDir   string       `name:"runtime-dir" help:"Runtime directory for the lock and the database." default:"${default_runtime_dir}"`
	PprofAddress string       `name:"pprof-address" help:"Serve pprof on this address (e.g. localhost:6060)."`
}

// Override applies the command line flags on top of cfg.
func (c *ServeCmd) Override(cfg config.Config) config.Config {
	if c.Listen != "" {
		cfg.Bridge.Listen = c.Listen
	}
	if c.P4Info != "" {
		cfg.Bridge.P4Info = c.P4Info
	}
	if c.Program != "" {
		cfg.Bridge.Program = c.Program
	}
	if c.Switch.IsSet() {
		cfg.Switch.Target = c.Switch.Target
	}
	if c.DeviceID != nil {
		cfg.Bridge.DeviceID = *c.DeviceID
	}
	return cfg
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	fileConfig, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	appConfig := c.Override(fileConfig)
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cli.LoggerFromConfig(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	dirs, err := config.NewRuntimeDirs(c.RuntimeDir)
	if err != nil {
		return err
	}

	cfg := server.RunConfig{
		Dirs:         dirs,
		Config:       appConfig,
		PprofAddress: c.PprofAddress,
		Logger:       logger,
	}

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.Run(ctx, cfg)
}
