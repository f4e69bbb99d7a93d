package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search characters and world facts",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	loreCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	lb := currentLore(cmd, loadSettings())
	printJSON(lb.Search(strings.Join(args, " ")))
}
