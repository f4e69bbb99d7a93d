package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings with secrets redacted",
		Run: func(cmd *cobra.Command, args []string) {
			printJSON(loadSettings().Public())
		},
	}

	RootCmd.AddCommand(cmd)
}
