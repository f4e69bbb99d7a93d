package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-proxy/internal/provider"
)

func init() {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the configured provider accepts",
		Run:   runModels,
	}

	RootCmd.AddCommand(cmd)
}

func runModels(cmd *cobra.Command, args []string) {
	cfg := loadSettings()
	models := cfg.ModelList()
	if len(models) == 0 {
		models = provider.DefaultModels(cfg.Provider.Name)
	}

	printJSON(map[string]any{
		"provider": cfg.Provider.Name,
		"default":  cfg.Provider.Model,
		"models":   models,
	})
}
