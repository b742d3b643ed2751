/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/spf13/cobra"
)

// mountLocalCmd represents the mountLocal command
var mountLocalCmd = &cobra.Command{
	Use:   "local <path/to/store> <mountpoint>",
	Short: "Mounts a local object store as filesystem",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		serve(args[1], func(ctx context.Context) (remote.Facade, func() error, error) {
			store, err := remote.OpenStore(args[0])
			if err != nil {
				return nil, nil, err
			}
			return store, store.Close, nil
		})
	},
}

func init() {
	mountCmd.AddCommand(mountLocalCmd)
}
