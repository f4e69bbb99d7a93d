package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-proxy/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve a stored lorebook",
		Run:   runGet,
	}

	cmd.Flags().Bool("history", false, "Return all versions (newest first), without content")
	cmd.Flags().IntP("version", "v", 0, "Specific version number")
	cmd.Flags().Bool("raw", false, "Print only the lorebook content")

	loreCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	history, _ := cmd.Flags().GetBool("history")
	version, _ := cmd.Flags().GetInt("version")
	raw, _ := cmd.Flags().GetBool("raw")

	s, err := openStore(loadSettings())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snaps, err := s.Get(cmd.Context(), store.GetParams{
		Name:    loreName,
		History: history,
		Version: version,
	})
	if err != nil {
		exitErr("get", err)
	}

	if history {
		for i := range snaps {
			snaps[i].Content = ""
		}
		printJSON(snaps)
		return
	}
	if raw {
		fmt.Println(snaps[0].Content)
		return
	}
	printJSON(snaps[0])
}
