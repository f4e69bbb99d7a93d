package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/lore"
	"github.com/rcliao/persona-proxy/internal/store"
)

var (
	loreName string
	loreFile string
)

// loreCmd groups the lorebook inspection and history commands.
var loreCmd = &cobra.Command{
	Use:   "lore",
	Short: "Inspect, validate and version lorebooks",
}

func init() {
	loreCmd.PersistentFlags().StringVarP(&loreName, "name", "n", store.DefaultName, "Lorebook name in the history database")
	loreCmd.PersistentFlags().StringVar(&loreFile, "file", "", "Read the lorebook from this file instead of the history database")

	RootCmd.AddCommand(loreCmd)
}

// readInput reads the file named by the first arg, or else piped stdin.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		b, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	return "", errors.New("lorebook is required (file argument or stdin)")
}

// parseLore loads blob into a fresh store.
func parseLore(cfg config.Settings, blob string) (*lore.Store, error) {
	if strings.TrimSpace(blob) == "" {
		return nil, errors.New("lorebook is empty")
	}
	lb := lore.NewStore(newLogger(cfg))
	if !lb.Load(blob) {
		return nil, errors.New("lorebook rejected: expected a JSON object or array")
	}
	return lb, nil
}

// currentLore loads the lorebook from --file, or else the latest snapshot.
func currentLore(cmd *cobra.Command, cfg config.Settings) *lore.Store {
	var blob string
	if loreFile != "" {
		b, err := os.ReadFile(loreFile)
		if err != nil {
			exitErr("read lorebook", err)
		}
		blob = string(b)
	} else {
		s, err := openStore(cfg)
		if err != nil {
			exitErr("open store", err)
		}
		defer s.Close()
		snap, err := s.Latest(cmd.Context(), loreName)
		if err != nil {
			exitErr("load lorebook", err)
		}
		blob = snap.Content
	}

	lb, err := parseLore(cfg, blob)
	if err != nil {
		exitErr("parse lorebook", err)
	}
	return lb
}
