package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available assistant models",
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	infos := modelCache.All(cmd.Context())
	if len(infos) == 0 {
		fmt.Println("No model metadata available.")
		return nil
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	for _, info := range infos {
		name := info.Name
		if name == cfg.ModelName {
			name = defaultTheme.completedStyle().Render(name + " (default)")
		}
		fmt.Println(name)
		if info.DisplayName != "" {
			fmt.Printf("  %s\n", info.DisplayName)
		}
		if info.ContextWindow > 0 {
			fmt.Printf("  context window: %d tokens\n", info.ContextWindow)
		}
		if info.Description != "" {
			fmt.Printf("  %s\n", defaultTheme.hintStyle().Render(info.Description))
		}
	}
	return nil
}
