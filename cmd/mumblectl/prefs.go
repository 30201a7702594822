package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lrhodin/mumblesync/pkg/connector"
)

var prefsCommand = &cli.Command{
	Name:   "prefs",
	Usage:  "Inspect stored per-user volume and local mute",
	Before: prepareApp,
	Action: cmdPrefsList,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "Only show preferences for this server host",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "Forget the stored preference of a user",
			ArgsUsage: "HOST USER",
			Action:    cmdPrefsDelete,
		},
	},
}

func openStore(ctx *cli.Context) (*connector.PrefsStore, error) {
	return connector.OpenPrefsStore(ctx.Context, getConfig(ctx).Database.Path)
}

func cmdPrefsList(ctx *cli.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	rows, err := store.ListUserPreferences(ctx.Context, ctx.String("host"))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No stored preferences")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tUSER\tVOLUME\tLOCAL MUTE\tUPDATED")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%t\t%s\n",
			row.Host, row.UserName, row.Volume*100, row.LocalMuted,
			time.UnixMilli(row.UpdatedTS).Format(time.DateTime))
	}
	return w.Flush()
}

func cmdPrefsDelete(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a host and a user name")
	}
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	host, user := ctx.Args().Get(0), ctx.Args().Get(1)
	if err = store.DeleteUserPreference(ctx.Context, host, user); err != nil {
		return err
	}
	fmt.Printf("Deleted preference of '%s' on %s\n", user, host)
	return nil
}
