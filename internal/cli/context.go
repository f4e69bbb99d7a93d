package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [prompt]",
		Short: "Show the lorebook context injected into a prompt",
		Long:  "Render the world and character context, wrapped around the prompt exactly as the proxy sends it upstream.",
		Run:   runContext,
	}

	cmd.Flags().String("character", "", "Render only this character")

	loreCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	character, _ := cmd.Flags().GetString("character")
	lb := currentLore(cmd, loadSettings())
	fmt.Println(lb.InjectContext(strings.Join(args, " "), character, true))
}
