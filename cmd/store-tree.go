/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/csweichel/cloudfs/pkg/manager"
	"github.com/csweichel/cloudfs/pkg/remote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var storeTreeOpts struct {
	Check bool
}

// storeTreeCmd represents the storeTree command
var storeTreeCmd = &cobra.Command{
	Use:   "tree <path/to/store>",
	Short: "Prints the inode tree a mount of the store would serve",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := remote.OpenStore(args[0])
		if err != nil {
			log.WithError(err).Fatal("cannot open store")
		}
		defer store.Close()

		mgr, err := manager.New(context.Background(), store, manager.Options{})
		if err != nil {
			log.WithError(err).Fatal("cannot populate file manager")
		}
		fmt.Print(mgr.String())

		if storeTreeOpts.Check {
			err = mgr.Check()
			if err != nil {
				log.WithError(err).Fatal("file manager is inconsistent")
			}
			log.WithField("files", mgr.Len()).Info("file manager is consistent")
		}
	},
}

func init() {
	storeCmd.AddCommand(storeTreeCmd)
	storeTreeCmd.Flags().BoolVar(&storeTreeOpts.Check, "check", false, "verify the consistency of the file manager")
}
