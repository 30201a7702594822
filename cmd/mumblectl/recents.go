package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

const maxRecentServers = 10

// RecentServer is one entry of recents.json.
type RecentServer struct {
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
	Username    string `json:"username,omitempty"`
}

// RecentList holds the last servers connected to, newest first.
type RecentList struct {
	Servers []*RecentServer `json:"servers"`
	Path    string          `json:"-"`
}

func loadRecentList(path string) (*RecentList, error) {
	list := &RecentList{}
	if err := loadJSON(path, "recent server list", list); err != nil {
		return nil, err
	}
	list.Path = path
	return list, nil
}

func (rl *RecentList) Save() error {
	return saveJSON(rl.Path, "recent server list", rl)
}

// Add moves address to the front, replacing any older entry for it. An
// empty display name falls back to the host.
func (rl *RecentList) Add(address, username, displayName string) {
	if displayName == "" {
		displayName = hostOf(address)
	}
	servers := []*RecentServer{{DisplayName: displayName, Address: address, Username: username}}
	for _, server := range rl.Servers {
		if !strings.EqualFold(server.Address, address) {
			servers = append(servers, server)
		}
	}
	if len(servers) > maxRecentServers {
		servers = servers[:maxRecentServers]
	}
	rl.Servers = servers
}

// DisplayName returns the name last recorded for address.
func (rl *RecentList) DisplayName(address string) (string, bool) {
	for _, server := range rl.Servers {
		if strings.EqualFold(server.Address, address) {
			return server.DisplayName, true
		}
	}
	return "", false
}

func cmdServersRecent(ctx *cli.Context) error {
	recents := getRecents(ctx)
	if len(recents.Servers) == 0 {
		fmt.Println("No recent servers.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, server := range recents.Servers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", server.DisplayName, server.Address, server.Username)
	}
	return w.Flush()
}

func hostOf(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}
