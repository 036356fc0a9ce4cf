package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/alexbotov/rgsclient/internal/config"
)

// version is set by ldflags during build
var version = "dev"

// Globals are shared by every subcommand
type Globals struct {
	Config string `short:"c" help:"Path to a YAML config file" type:"path" env:"RGS_CONFIG"`
	Debug  bool   `help:"Enable debug logging"`
}

type CLI struct {
	Globals

	Version      kong.VersionFlag `short:"v" help:"Show version"`
	Play         PlayCmd          `cmd:"" help:"Authenticate and play rounds from the terminal"`
	Balance      BalanceCmd       `cmd:"" help:"Authenticate and print the balance"`
	Serve        ServeCmd         `cmd:"" help:"Run the local HTTP/WebSocket bridge"`
	Journal      JournalCmd       `cmd:"" help:"Print the round journal for reconciliation"`
	HashPassword HashPasswordCmd  `cmd:"hash-password" help:"Hash a bridge operator password"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("rgsclient"),
		kong.Description("Session and round client for a remote gaming server"),
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

// load reads the config file and environment
func (g *Globals) load() (*config.Config, error) {
	return config.Load(g.Config)
}

// logger builds the process logger from the log config
func (g *Globals) logger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if g.Debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
