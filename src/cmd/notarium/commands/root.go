package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

// RootCmd is the root command for notarium
var RootCmd = &cobra.Command{
	Use:              "notarium",
	Short:            "notarium permissioned ledger node",
	TraverseChildren: true,
}
