package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/pkg/dsa"
)

var foldersParentType string

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage archive folders",
}

var foldersEnsureCmd = &cobra.Command{
	Use:   "ensure <parent-id> <name>...",
	Short: "Create any missing child folders under a parent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client := initClient()
		if client == nil {
			return eris.New("dsa.api_url is not configured")
		}

		folders, err := dsa.EnsureFolders(ctx, client, args[0], foldersParentType, args[1:])
		if err != nil {
			return eris.Wrap(err, "ensure folders")
		}

		for name, folder := range folders {
			fmt.Printf("%s\t%s\n", name, folder.ID)
		}
		return nil
	},
}

func init() {
	foldersEnsureCmd.Flags().StringVar(&foldersParentType, "parent-type", "folder", "parent resource type: folder or collection")
	foldersCmd.AddCommand(foldersEnsureCmd)
	rootCmd.AddCommand(foldersCmd)
}
