package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/lrhodin/mumblesync/pkg/connector"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyServers
	contextKeyRecents
)

func getConfig(ctx *cli.Context) *connector.Config {
	return ctx.Context.Value(contextKeyConfig).(*connector.Config)
}

func getServers(ctx *cli.Context) *ServerList {
	return ctx.Context.Value(contextKeyServers).(*ServerList)
}

func getRecents(ctx *cli.Context) *RecentList {
	return ctx.Context.Value(contextKeyRecents).(*RecentList)
}

func getConfigDir() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "mumblesync")
}

func prepareApp(ctx *cli.Context) error {
	path := ctx.String("config")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg, err := connector.LoadConfig(path, true)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyConfig, cfg)
	return nil
}

func prepareServers(ctx *cli.Context) error {
	servers, err := loadServerList(ctx.String("servers"))
	if err != nil {
		return err
	}
	recents, err := loadRecentList(ctx.String("recents"))
	if err != nil {
		return err
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyServers, servers)
	ctx.Context = context.WithValue(ctx.Context, contextKeyRecents, recents)
	return nil
}

func prepareAll(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	return prepareServers(ctx)
}

func main() {
	app := &cli.App{
		Name:    "mumblectl",
		Usage:   "Terminal Mumble client",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   filepath.Join(getConfigDir(), "config.yaml"),
				EnvVars: []string{"MUMBLESYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "servers",
				Usage: "Path to the favourite server list",
				Value: filepath.Join(getConfigDir(), "servers.json"),
			},
			&cli.StringFlag{
				Name:  "recents",
				Usage: "Path to the recent server list",
				Value: filepath.Join(getConfigDir(), "recents.json"),
			},
		},
		Commands: []*cli.Command{
			connectCommand,
			serversCommand,
			prefsCommand,
			fitImageCommand,
			exampleConfigCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var exampleConfigCommand = &cli.Command{
	Name:  "example-config",
	Usage: "Print the example config",
	Action: func(ctx *cli.Context) error {
		fmt.Print(connector.ExampleConfig)
		return nil
	},
}
