/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/csweichel/cloudfs/pkg/remote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mountGithubOpts struct {
	Revision string
}

// mountGithubCmd represents the mountGithub command
var mountGithubCmd = &cobra.Command{
	Use:   "github <owner/repo> <mountpoint>",
	Args:  cobra.ExactArgs(2),
	Short: "Mounts a GitHub repo as read-only filesystem. Use $GITHUB_TOKEN to pass in the token.",
	Run: func(cmd *cobra.Command, args []string) {
		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			log.Fatal("missing $GITHUB_TOKEN environment variable")
		}

		segs := strings.Split(args[0], "/")
		if len(segs) != 2 {
			log.WithField("segments", segs).Fatal("invalid repo format - must be owner/repo")
		}
		owner, repo := segs[0], segs[1]

		serve(args[1], func(ctx context.Context) (remote.Facade, func() error, error) {
			return remote.NewGitHub(ctx, token, owner, repo, mountGithubOpts.Revision), nil, nil
		})
	},
}

func init() {
	mountCmd.AddCommand(mountGithubCmd)
	mountGithubCmd.Flags().StringVar(&mountGithubOpts.Revision, "revision", "main", "Revision to serve")
}
