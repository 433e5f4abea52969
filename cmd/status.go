package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record, dirty, and conflict counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records := env.Wrangler.Records()
		annotated := 0
		withItem := 0
		for _, rec := range records {
			if !rec.Annotation.Empty() {
				annotated++
			}
			if rec.ItemID != "" {
				withItem++
			}
		}
		conflicts := env.Wrangler.Conflicts()

		fmt.Printf("records:             %d\n", len(records))
		fmt.Printf("annotated:           %d\n", annotated)
		fmt.Printf("linked to archive:   %d\n", withItem)
		fmt.Printf("dirty:               %d\n", env.Wrangler.DirtyCount())
		fmt.Printf("case mappings:       %d\n", len(env.Wrangler.Mapping()))
		fmt.Printf("local conflicts:     %d\n", len(conflicts.Local))
		fmt.Printf("canonical conflicts: %d\n", len(conflicts.Canonical))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
