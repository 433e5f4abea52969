package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List identifier conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c := env.Wrangler.Conflicts()
		if len(c.Local) == 0 && len(c.Canonical) == 0 {
			fmt.Println("no conflicts")
			return nil
		}

		if len(c.Local) > 0 {
			fmt.Printf("local case IDs with competing canonical IDs (%d):\n", len(c.Local))
			for _, local := range sortedKeys(c.Local) {
				fmt.Printf("  %s -> %s\n", local, strings.Join(c.Local[local], ", "))
			}
		}
		if len(c.Canonical) > 0 {
			fmt.Printf("canonical IDs claimed by multiple local case IDs (%d):\n", len(c.Canonical))
			for _, canonical := range sortedKeys(c.Canonical) {
				fmt.Printf("  %s <- %s\n", canonical, strings.Join(c.Canonical[canonical], ", "))
			}
		}
		return nil
	},
}

var conflictsResolveLocalCmd = &cobra.Command{
	Use:   "resolve-local <local-case-id> <canonical-id>",
	Short: "Resolve a local conflict by choosing one canonical ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Wrangler.ResolveLocalConflict(args[0], args[1])
		zap.L().Info("resolved local conflict",
			zap.String("local", args[0]),
			zap.String("canonical", args[1]),
			zap.Int("records", n),
		)

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

var conflictsClearLocalCmd = &cobra.Command{
	Use:   "clear-local <local-case-id>",
	Short: "Clear a local conflict and its records' canonical IDs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Wrangler.ClearLocalConflict(args[0])
		zap.L().Info("cleared local conflict",
			zap.String("local", args[0]),
			zap.Int("records", n),
		)

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

var conflictsResolveCanonicalCmd = &cobra.Command{
	Use:   "resolve-canonical <canonical-id> <local-case-id>",
	Short: "Resolve a canonical conflict by choosing one local case ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Wrangler.ResolveCanonicalConflict(args[0], args[1])
		zap.L().Info("resolved canonical conflict",
			zap.String("canonical", args[0]),
			zap.String("local", args[1]),
			zap.Int("records", n),
		)

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	conflictsCmd.AddCommand(conflictsResolveLocalCmd)
	conflictsCmd.AddCommand(conflictsClearLocalCmd)
	conflictsCmd.AddCommand(conflictsResolveCanonicalCmd)
	rootCmd.AddCommand(conflictsCmd)
}
