/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/spf13/cobra"
)

var mountS3Opts remote.S3Config

// mountS3Cmd represents the mountS3 command
var mountS3Cmd = &cobra.Command{
	Use:   "s3 <bucket> <mountpoint>",
	Short: "Mounts an S3 bucket as filesystem",
	Long: `Mounts an S3 bucket, or a prefix of one, as filesystem. Key prefixes ending in a slash
are served as directories. Without --access-key the default AWS credential chain is used.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mountS3Opts
		cfg.Bucket = args[0]

		serve(args[1], func(ctx context.Context) (remote.Facade, func() error, error) {
			s3, err := remote.NewS3(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return s3, nil, nil
		})
	},
}

func init() {
	mountCmd.AddCommand(mountS3Cmd)
	mountS3Cmd.Flags().StringVar(&mountS3Opts.Prefix, "prefix", "", "key prefix to mount instead of the bucket root")
	mountS3Cmd.Flags().StringVar(&mountS3Opts.Endpoint, "endpoint", "", "S3 endpoint, e.g. for MinIO")
	mountS3Cmd.Flags().StringVar(&mountS3Opts.Region, "region", "us-east-1", "S3 region")
	mountS3Cmd.Flags().StringVar(&mountS3Opts.AccessKey, "access-key", "", "S3 access key")
	mountS3Cmd.Flags().StringVar(&mountS3Opts.SecretKey, "secret-key", "", "S3 secret key")
}
