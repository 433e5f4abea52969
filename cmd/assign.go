package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var assignCmd = &cobra.Command{
	Use:   "assign <local-case-id> <canonical-id>",
	Short: "Assign a canonical case ID to a local case ID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Wrangler.Assign(args[0], args[1])
		zap.L().Info("assigned canonical case id",
			zap.String("local", args[0]),
			zap.String("canonical", args[1]),
			zap.Int("records", n),
		)

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

func init() {
	rootCmd.AddCommand(assignCmd)
}
