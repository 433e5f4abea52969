package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push dirty records to the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Client == nil {
			return eris.New("dsa.api_url is not configured")
		}

		dirty := env.Wrangler.DirtyCount()
		if dirty == 0 {
			fmt.Println("nothing to sync")
			return nil
		}
		zap.L().Info("starting sync", zap.Int("dirty", dirty))

		unsub := env.Wrangler.SubscribeSync(func(p syncer.Progress) {
			zap.L().Info("sync progress",
				zap.String("status", string(p.Status)),
				zap.Int("completed", p.Completed),
				zap.Int("total", p.Total),
				zap.Int("failed", p.Failed),
			)
		})
		defer unsub()

		// First signal cancels the job cooperatively; in-flight items drain.
		go func() {
			<-ctx.Done()
			env.Wrangler.CancelSync()
		}()

		report, err := env.Wrangler.RunSync(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("sync %s: %d total, %d succeeded, %d failed, %d skipped\n",
			report.Status, report.Total, report.Succeeded, report.Failed, report.Skipped)
		for _, res := range report.Results {
			if res.Outcome == syncer.OutcomeFailed {
				fmt.Printf("  failed %s: %s\n", res.RecordID, res.Error)
			}
		}

		if report.Failed > 0 {
			return eris.Errorf("%d item(s) failed to sync", report.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
