/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/csweichel/cloudfs/pkg/cloudfs"
	"github.com/csweichel/cloudfs/pkg/manager"
	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	daemon "github.com/sevlyar/go-daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mountOpts struct {
	DefaultUID  uint32
	DefaultGID  uint32
	AllowOther  bool
	SharedDir   string
	Daemon      bool
	PidFile     string
	LogFile     string
	MetricsAddr string
}

// mountCmd represents the mount command
var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mounts a remote as filesystem",
}

// openFunc opens the facade to mount. The returned close function is called once the
// filesystem is unmounted and may be nil.
type openFunc func(ctx context.Context) (facade remote.Facade, close func() error, err error)

// serve opens the facade, populates a manager from it and serves it at mnt until the
// filesystem is unmounted or the process is signalled.
func serve(mnt string, open openFunc) {
	if mountOpts.Daemon {
		dctx := &daemon.Context{
			PidFileName: mountOpts.PidFile,
			PidFilePerm: 0644,
			LogFileName: mountOpts.LogFile,
			LogFilePerm: 0640,
			Umask:       027,
		}
		child, err := dctx.Reborn()
		if err != nil {
			log.WithError(err).Fatal("cannot daemonize")
		}
		if child != nil {
			fmt.Printf("started in background (pid %d)\n", child.Pid)
			return
		}
		defer dctx.Release()
	}

	ctx := context.Background()
	t0 := time.Now()

	facade, closer, err := open(ctx)
	if err != nil {
		log.WithError(err).Fatal("cannot open remote")
	}
	if closer != nil {
		defer func() {
			if err := closer(); err != nil {
				log.WithError(err).Warn("cannot close remote")
			}
		}()
	}

	if mountOpts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		facade = remote.Instrument(facade, remote.NewMetrics(reg))
		go serveMetrics(mountOpts.MetricsAddr, reg)
	}

	mgr, err := manager.New(ctx, facade, manager.Options{
		Owner: fuse.Owner{
			Uid: mountOpts.DefaultUID,
			Gid: mountOpts.DefaultGID,
		},
		SharedDir: mountOpts.SharedDir,
	})
	if err != nil {
		log.WithError(err).Fatal("cannot populate file manager")
	}

	server, err := cloudfs.Mount(mnt, mgr, facade, cloudfs.Options{
		AllowOther: mountOpts.AllowOther,
		Debug:      rootOpts.Verbose,
	})
	if err != nil {
		log.WithError(err).Fatal("cannot mount")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig).Info("unmounting")
		if err := server.Unmount(); err != nil {
			log.WithError(err).Error("cannot unmount")
		}
	}()

	fmt.Printf("mounted in %v\n", time.Since(t0))
	fmt.Printf("to unmount: fusermount -u %s\n", mnt)
	server.Wait()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.WithField("addr", addr).Info("serving metrics")
	err := http.ListenAndServe(addr, mux)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics server failed")
	}
}

func init() {
	rootCmd.AddCommand(mountCmd)

	mountCmd.PersistentFlags().Uint32Var(&mountOpts.DefaultUID, "uid", uint32(os.Getuid()), "owner of all files")
	mountCmd.PersistentFlags().Uint32Var(&mountOpts.DefaultGID, "gid", uint32(os.Getgid()), "group of all files")
	mountCmd.PersistentFlags().BoolVar(&mountOpts.AllowOther, "allow-other", false, "allow other users to access the filesystem")
	mountCmd.PersistentFlags().StringVar(&mountOpts.SharedDir, "shared-dir", "", "name of an additional empty directory below the root")
	mountCmd.PersistentFlags().BoolVar(&mountOpts.Daemon, "daemon", false, "run in the background")
	mountCmd.PersistentFlags().StringVar(&mountOpts.PidFile, "pid-file", "", "pid file to write when running in the background")
	mountCmd.PersistentFlags().StringVar(&mountOpts.LogFile, "log-file", "", "log file to use when running in the background")
	mountCmd.PersistentFlags().StringVar(&mountOpts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9500")
}
