// Package cmd is the kv command line tool.
package cmd

import (
	"fmt"
	"os"

	kv "github.com/micro/go-kv"
	"github.com/micro/go-kv/config"
	"github.com/urfave/cli/v2"
)

var (
	// DefaultCmd is the root command with every subcommand registered.
	DefaultCmd = NewCmd()

	name        = "kv"
	description = "Key/value store with expiry, queries and sync"
	version     = "latest"

	// DefaultFlags select and configure the backend
	DefaultFlags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file, json, yaml or toml",
			EnvVars: []string{"KV_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Backend: memory, session, local, file, database or redis",
		},
		&cli.StringFlag{
			Name:  "namespace",
			Usage: "Namespace isolating the keys",
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Data directory of file based backends",
		},
		&cli.StringSliceFlag{
			Name:  "address",
			Usage: "Backend nodes, a database path or redis url",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: trace, debug, info, warn, error",
		},
	}
)

// Cmd wraps the cli app.
type Cmd interface {
	// App returns the cli app
	App() *cli.App
	// Run runs the app with the process arguments
	Run() error
}

type cmd struct {
	app *cli.App
}

func (c *cmd) App() *cli.App {
	return c.app
}

func (c *cmd) Run() error {
	return c.app.Run(os.Args)
}

// NewCmd returns the root command.
func NewCmd() Cmd {
	c := new(cmd)
	c.app = cli.NewApp()
	c.app.Name = name
	c.app.Usage = description
	c.app.Version = version
	c.app.Flags = DefaultFlags
	c.app.Commands = Commands()
	return c
}

// Register appends commands to the default app.
func Register(cmds ...*cli.Command) {
	app := DefaultCmd.App()
	app.Commands = append(app.Commands, cmds...)
}

// Run runs the default command. On error, it prints the error message and
// exits.
func Run() {
	if err := DefaultCmd.Run(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

// Config loads the config file and layers the global flags over it.
func Config(ctx *cli.Context) (config.Config, error) {
	c, err := config.Load(ctx.String("config"))
	if err != nil {
		return c, err
	}

	flags := config.Config{
		Backend:   ctx.String("backend"),
		Namespace: ctx.String("namespace"),
		Dir:       ctx.String("dir"),
		Nodes:     ctx.StringSlice("address"),
		LogLevel:  ctx.String("log-level"),
	}
	if err := config.Merge(&c, flags); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Open builds the store described by the config and flags.
func Open(ctx *cli.Context) (*kv.KV, error) {
	c, err := Config(ctx)
	if err != nil {
		return nil, err
	}

	s, err := c.Store()
	if err != nil {
		return nil, err
	}
	l, err := c.Logger()
	if err != nil {
		return nil, err
	}
	syncOpts, err := c.SyncOptions()
	if err != nil {
		return nil, err
	}

	return kv.New(
		kv.Backend(s),
		kv.Expiry(c.TTLOptions()...),
		kv.Sync(syncOpts...),
		kv.WithLogger(l),
		kv.Context(ctx.Context),
	)
}
