package cli

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-proxy/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show lorebook history statistics",
		Run:   runStats,
	}

	loreCmd.AddCommand(cmd)
}

type statsOutput struct {
	*store.Stats
	DBSize string `json:"db_size"`
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore(loadSettings())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(statsOutput{Stats: stats, DBSize: humanize.Bytes(uint64(stats.DBSizeBytes))})
}
