package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a lorebook without storing it",
		Long:  "Parse a lorebook from a file or stdin and print what it contains.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runCheck,
	}

	loreCmd.AddCommand(cmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg := loadSettings()
	blob, err := readInput(args)
	if err != nil {
		exitErr("check", err)
	}
	lb, err := parseLore(cfg, blob)
	if err != nil {
		exitErr("check", err)
	}
	printJSON(lb.Stats())
}
