/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"time"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/spf13/cobra"
)

var mountRemoteOpts struct {
	Timeout  time.Duration
	Attempts int
}

// mountRemoteCmd represents the mountRemote command
var mountRemoteCmd = &cobra.Command{
	Use:   "remote <baseURL> <mountpoint>",
	Short: "Mounts an object store served over HTTP. Use $CLOUDFS_TOKEN to pass in a bearer token.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		serve(args[1], func(ctx context.Context) (remote.Facade, func() error, error) {
			retry := remote.DefaultRetryConfig()
			retry.MaxAttempts = mountRemoteOpts.Attempts

			return remote.NewClient(ctx, remote.ClientConfig{
				BaseURL: args[0],
				Token:   os.Getenv("CLOUDFS_TOKEN"),
				Timeout: mountRemoteOpts.Timeout,
				Retry:   retry,
			}), nil, nil
		})
	},
}

func init() {
	mountCmd.AddCommand(mountRemoteCmd)
	mountRemoteCmd.Flags().DurationVar(&mountRemoteOpts.Timeout, "timeout", 30*time.Second, "timeout of a single request")
	mountRemoteCmd.Flags().IntVar(&mountRemoteOpts.Attempts, "attempts", 3, "number of attempts per request")
}
