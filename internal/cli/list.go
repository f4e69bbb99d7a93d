package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored lorebooks (latest version of each)",
		Run:   runList,
	}

	loreCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	s, err := openStore(loadSettings())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snaps, err := s.List(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}
	printJSON(snaps)
}
