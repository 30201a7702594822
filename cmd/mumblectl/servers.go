package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

// FavouriteServer is one saved server in servers.json.
type FavouriteServer struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type ServerList struct {
	Servers []*FavouriteServer `json:"servers"`
	Path    string             `json:"-"`
}

func loadServerList(path string) (*ServerList, error) {
	list := &ServerList{}
	if err := loadJSON(path, "server list", list); err != nil {
		return nil, err
	}
	list.Path = path
	return list, nil
}

func (sl *ServerList) Save() error {
	return saveJSON(sl.Path, "server list", sl)
}

func loadJSON(path, what string, into any) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to open %s at %s: %w", what, path, err)
	}
	defer file.Close()
	if err = json.NewDecoder(file).Decode(into); err != nil {
		return fmt.Errorf("failed to parse %s at %s: %w", what, path, err)
	}
	return nil
}

func saveJSON(path, what string, data any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", what, err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err = enc.Encode(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	return nil
}

// Get finds a favourite by case-insensitive name.
func (sl *ServerList) Get(name string) (*FavouriteServer, bool) {
	for _, server := range sl.Servers {
		if strings.EqualFold(server.Name, name) {
			return server, true
		}
	}
	return nil, false
}

// Put adds a favourite or replaces the one with the same name.
func (sl *ServerList) Put(server *FavouriteServer) {
	if existing, ok := sl.Get(server.Name); ok {
		*existing = *server
		return
	}
	sl.Servers = append(sl.Servers, server)
	sort.Slice(sl.Servers, func(i, j int) bool {
		return strings.ToLower(sl.Servers[i].Name) < strings.ToLower(sl.Servers[j].Name)
	})
}

func (sl *ServerList) Remove(name string) bool {
	for i, server := range sl.Servers {
		if strings.EqualFold(server.Name, name) {
			sl.Servers = append(sl.Servers[:i], sl.Servers[i+1:]...)
			return true
		}
	}
	return false
}

var serversCommand = &cli.Command{
	Name:   "servers",
	Usage:  "Manage favourite servers",
	Before: prepareServers,
	Action: cmdServersList,
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "Add or replace a favourite server",
			ArgsUsage: "NAME ADDRESS",
			Action:    cmdServersAdd,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Username for this server"},
				&cli.StringFlag{Name: "password", Usage: "Server password"},
			},
		},
		{
			Name:   "recent",
			Usage:  "List recently connected servers",
			Action: cmdServersRecent,
		},
		{
			Name:      "remove",
			Aliases:   []string{"rm"},
			Usage:     "Remove a favourite server",
			ArgsUsage: "NAME",
			Action:    cmdServersRemove,
		},
	},
}

func cmdServersList(ctx *cli.Context) error {
	servers := getServers(ctx)
	if len(servers.Servers) == 0 {
		fmt.Println("No favourite servers. Add one with 'mumblectl servers add NAME ADDRESS'.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, server := range servers.Servers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", server.Name, server.Address, server.Username)
	}
	return w.Flush()
}

func cmdServersAdd(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a name and an address")
	}
	servers := getServers(ctx)
	servers.Put(&FavouriteServer{
		Name:     ctx.Args().Get(0),
		Address:  ctx.Args().Get(1),
		Username: ctx.String("username"),
		Password: ctx.String("password"),
	})
	if err := servers.Save(); err != nil {
		return err
	}
	fmt.Printf("Saved server '%s'\n", ctx.Args().Get(0))
	return nil
}

func cmdServersRemove(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a server name")
	}
	servers := getServers(ctx)
	if !servers.Remove(ctx.Args().Get(0)) {
		return fmt.Errorf("no server named '%s'", ctx.Args().Get(0))
	}
	if err := servers.Save(); err != nil {
		return err
	}
	fmt.Printf("Removed server '%s'\n", ctx.Args().Get(0))
	return nil
}
