package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/tanglesync/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for tanglesync
var RootCmd = &cobra.Command{
	Use:              "tanglesync",
	Short:            "tangle synchronisation node",
	TraverseChildren: true,
}
