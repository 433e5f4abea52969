package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/rules"
)

var (
	extractRulesPath string
	extractForce     bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Apply extraction rules to the loaded records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path := extractRulesPath
		if path == "" {
			path = cfg.Rules.Path
		}
		rs, err := rules.Load(path)
		if err != nil {
			return eris.Wrapf(err, "load rules %s", path)
		}

		changed := env.Wrangler.ApplyRules(rs, extractForce)
		zap.L().Info("extraction complete",
			zap.Int("changed", changed),
			zap.Int("dirty", env.Wrangler.DirtyCount()),
		)

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractRulesPath, "rules", "", "rule file path (default from config)")
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "re-run patterns over previously extracted values")
	rootCmd.AddCommand(extractCmd)
}
