package commands

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/tanglesync/src/peers"
)

var peersDataDir string

// NewPeersCmd produces a command that lists and edits the addresses in
// [datadir]/peers.json.
func NewPeersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List the bootstrap addresses",
		RunE:  listPeers,
	}

	cmd.PersistentFlags().StringVar(&peersDataDir, "datadir", _config.DataDir, "Top-level directory for configuration and data")

	cmd.AddCommand(&cobra.Command{
		Use:   "add [address...]",
		Short: "Add bootstrap addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE:  addPeers,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [address...]",
		Short: "Remove bootstrap addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE:  removePeers,
	})

	return cmd
}

func listPeers(cmd *cobra.Command, args []string) error {
	addrs, err := peers.NewJSONPeers(peersDataDir).Addresses()
	if err != nil {
		return err
	}

	for _, a := range addrs {
		fmt.Println(a)
	}

	return nil
}

func addPeers(cmd *cobra.Command, args []string) error {
	store := peers.NewJSONPeers(peersDataDir)

	addrs, err := store.Addresses()
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		known[a] = true
	}

	for _, a := range args {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("invalid address %s: %v", a, err)
		}
		if !known[a] {
			addrs = append(addrs, a)
			known[a] = true
		}
	}

	if err := os.MkdirAll(peersDataDir, 0700); err != nil {
		return err
	}

	return store.SetAddresses(addrs)
}

func removePeers(cmd *cobra.Command, args []string) error {
	store := peers.NewJSONPeers(peersDataDir)

	addrs, err := store.Addresses()
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(args))
	for _, a := range args {
		drop[a] = true
	}

	kept := addrs[:0]
	for _, a := range addrs {
		if !drop[a] {
			kept = append(kept, a)
		}
	}

	return store.SetAddresses(kept)
}
