package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lrhodin/mumblesync/pkg/connector"
	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/router"
	"github.com/lrhodin/mumblesync/pkg/tui"
)

var connectCommand = &cli.Command{
	Name:      "connect",
	Aliases:   []string{"c"},
	Usage:     "Connect to a server and open the terminal client",
	ArgsUsage: "[SERVER]",
	Before:    prepareAll,
	Action:    cmdConnect,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "username",
			Aliases: []string{"u"},
			Usage:   "Override the configured username",
		},
	},
}

func cmdConnect(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	var displayName string
	if target := ctx.Args().First(); target != "" {
		displayName = applyServerTarget(cfg, getServers(ctx), target)
	}
	if username := ctx.String("username"); username != "" {
		cfg.Server.Username = username
	}
	recents := getRecents(ctx)
	if displayName == "" {
		displayName, _ = recents.DisplayName(cfg.Server.Address)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zlog.Logger = *log

	store, err := connector.OpenPrefsStore(ctx.Context, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rtr := router.New(*log)
	rtr.Register(router.Default)
	var hook mumble.MuteHook
	if cfg.Audio.HardwareMute {
		hook = connector.NewHardwareMuteHook(*log, cfg.Audio.InputSource)
	}
	engine := connector.NewEngine(*log, connector.Options{
		Config:   cfg,
		Router:   rtr,
		Store:    store,
		Notifier: connector.NewDesktopNotifier(*log),
		MuteHook: hook,
	})
	watcher := connector.NewConfigWatcher(*log, ctx.String("config"), engine.ApplyConfig)

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		rtr.Run(egCtx)
		return nil
	})
	eg.Go(func() error {
		return engine.Run(egCtx)
	})
	eg.Go(func() error {
		return watcher.Watch(egCtx)
	})
	eg.Go(func() error {
		return keepConnected(egCtx, *log, cfg.Server, engine, func() {
			recents.Add(cfg.Server.Address, cfg.Server.Username, displayName)
			if err := recents.Save(); err != nil {
				log.Warn().Err(err).Msg("Failed to save recent servers")
			}
		})
	})
	program := tea.NewProgram(tui.New(engine), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(egCtx))
	eg.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	return eg.Wait()
}

// applyServerTarget points the config at a favourite by name, or at a raw
// host[:port] address. It returns the favourite's name if one matched.
func applyServerTarget(cfg *connector.Config, servers *ServerList, target string) (name string) {
	if fav, ok := servers.Get(target); ok {
		name = fav.Name
		cfg.Server.Address = fav.Address
		if fav.Username != "" {
			cfg.Server.Username = fav.Username
		}
		cfg.Server.Password = fav.Password
	} else {
		cfg.Server.Address = target
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		cfg.Server.Address = net.JoinHostPort(cfg.Server.Address, connector.DefaultPort)
	}
	return name
}

// keepConnected dials the server and redials after every disconnect until
// ctx is done. onConnected runs after every successful dial.
func keepConnected(ctx context.Context, log zerolog.Logger, cfg connector.ServerConfig, engine *connector.Engine, onConnected func()) error {
	log = log.With().Str("component", "reconnect").Logger()
	for attempt := 1; ; attempt++ {
		session := connector.NewGumbleSession(log, cfg, router.Default)
		if err := engine.SetSession(ctx, session); err != nil {
			return nil
		}
		dialCtx, cancelDial := context.WithTimeout(ctx, cfg.ConnectTimeout)
		done, err := session.Connect(dialCtx)
		cancelDial()
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Connection attempt failed")
		} else {
			attempt = 0
			onConnected()
			select {
			case <-ctx.Done():
				session.Disconnect()
				return nil
			case <-done:
			}
		}
		log.Debug().Dur("delay", cfg.ReconnectDelay).Msg("Reconnecting after delay")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.ReconnectDelay):
		}
	}
}
