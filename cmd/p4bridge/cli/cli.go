package cli

import (
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-p4bridge/config"
	"github.com/frobware/go-p4bridge/logging"
)

// CLI is the root command structure for p4bridge.
type CLI struct {
	Config string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log    string `name:"log" help:"Log spec (e.g., 'info,reconciler=debug')." env:"P4BRIDGE_LOG"`

	Serve        ServeCmd        `cmd:"" help:"Start the P4Runtime server and the switch connection."`
	CheckFlow    CheckFlowCmd    `cmd:"" name:"check-flow" help:"Parse flows and print their OpenFlow encoding."`
	ShowPipeline ShowPipelineCmd `cmd:"" name:"show-pipeline" help:"Print the table schemas of a P4Info file."`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("p4bridge"),
		kong.Description("P4Runtime to OpenFlow bridge."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(SwitchTarget{}), switchTargetMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
			"default_runtime_dir": config.DefaultRuntimeDirs().Base(),
		},
	}
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// Logger creates a logger for CLI commands.
// CLI commands default to WARN level for quieter output.
// Use LoggerFromConfig for serve.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings.
// --log, or P4BRIDGE_LOG through it, takes precedence over the file.
// Output goes to stdout for daemon/container log collection.
func (c *CLI) LoggerFromConfig(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}
