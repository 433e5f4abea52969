package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/fetcher"
)

var (
	loadSheetName    string
	loadSheetIndex   int
	loadResourceType string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load slide records into the local store",
}

var loadFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Load records from a CSV or XLSX inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path := args[0]
		var rows []fetcher.Row
		if loadSheetName != "" || loadSheetIndex > 0 {
			_, rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{
				SheetName:  loadSheetName,
				SheetIndex: loadSheetIndex,
			})
		} else {
			_, rows, err = fetcher.ReadFile(path)
		}
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}

		n, err := env.Wrangler.LoadFromRows(filepath.Base(path), rows)
		if err != nil {
			return err
		}
		zap.L().Info("loaded file", zap.String("path", path), zap.Int("records", n))

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

var loadArchiveCmd = &cobra.Command{
	Use:   "archive <resource-id>",
	Short: "Load records from a Digital Slide Archive folder or collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Client == nil {
			return eris.New("dsa.api_url is not configured")
		}

		n, err := env.Wrangler.LoadFromArchive(ctx, args[0], loadResourceType)
		if err != nil {
			return eris.Wrap(err, "load from archive")
		}
		zap.L().Info("loaded archive items",
			zap.String("resource", args[0]),
			zap.Int("records", n),
		)

		return env.Wrangler.SaveSnapshot(ctx)
	},
}

func init() {
	loadFileCmd.Flags().StringVar(&loadSheetName, "sheet", "", "XLSX sheet name (default first sheet)")
	loadFileCmd.Flags().IntVar(&loadSheetIndex, "sheet-index", 0, "XLSX sheet index")
	loadArchiveCmd.Flags().StringVar(&loadResourceType, "type", "folder", "resource type: folder or collection")
	loadCmd.AddCommand(loadFileCmd)
	loadCmd.AddCommand(loadArchiveCmd)
	rootCmd.AddCommand(loadCmd)
}
