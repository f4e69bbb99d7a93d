package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Store a new lorebook version",
		Long:  "Validate a lorebook from a file or stdin and store it as the newest version. The running proxy picks it up on restart.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runPut,
	}

	loreCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	cfg := loadSettings()
	blob, err := readInput(args)
	if err != nil {
		exitErr("put", err)
	}
	lb, err := parseLore(cfg, blob)
	if err != nil {
		exitErr("put", err)
	}

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snap, err := s.Put(cmd.Context(), store.PutParams{
		Name:       loreName,
		Content:    blob,
		Source:     model.SourceCLI,
		Characters: lb.Stats().Characters,
	})
	if err != nil {
		exitErr("put", err)
	}

	snap.Content = ""
	printJSON(snap)
}
