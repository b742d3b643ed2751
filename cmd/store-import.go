/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/csweichel/cloudfs/pkg/remote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// storeImportCmd represents the storeImport command
var storeImportCmd = &cobra.Command{
	Use:   "import <path/to/store> <src.tar>",
	Short: "Imports a tar file into a local object store",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		t0 := time.Now()

		f, err := os.Open(args[1])
		if err != nil {
			log.WithError(err).Fatal("cannot open source file")
		}
		defer f.Close()

		var in io.Reader = f
		if strings.HasSuffix(args[1], ".gz") || strings.HasSuffix(args[1], ".tgz") {
			gz, err := gzip.NewReader(f)
			if err != nil {
				log.WithError(err).Fatal("cannot decompress source file")
			}
			defer gz.Close()
			in = gz
		}

		store, err := remote.OpenStore(args[0])
		if err != nil {
			log.WithError(err).Fatal("cannot open store")
		}
		defer store.Close()

		n, err := store.Import(context.Background(), in)
		if err != nil {
			log.WithError(err).WithField("imported", n).Fatal("cannot import")
		}
		log.WithField("files", n).WithField("duration", time.Since(t0)).Info("import done")
	},
}

func init() {
	storeCmd.AddCommand(storeImportCmd)
}
