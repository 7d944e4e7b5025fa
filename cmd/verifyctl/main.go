// Command verifyctl runs operational tasks against a verification deployment:
// schema migrations, catalog inspection and development token minting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "verifyctl",
		Short:         "Operate the student verification center",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newCatalogCmd(), newTokenCmd())
	return root
}
