package cloudfs

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/csweichel/cloudfs/pkg/manager"
	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
)

// Options configure a mount.
type Options struct {
	AllowOther bool
	Debug      bool

	// EntryTimeout and AttrTimeout bound how long the kernel caches lookups and
	// attributes. Zero means one second.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// Mount serves mgr at mountpoint, creating the directory if needed.
func Mount(mountpoint string, mgr *manager.Manager, facade remote.Facade, opts Options) (*fuse.Server, error) {
	root, ok := mgr.Root()
	if !ok {
		return nil, fmt.Errorf("manager has no root")
	}
	files := mgr.Len()
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return nil, fmt.Errorf("cannot create mountpoint %s: %w", mountpoint, err)
	}

	entryTimeout := opts.EntryTimeout
	if entryTimeout == 0 {
		entryTimeout = time.Second
	}
	attrTimeout := opts.AttrTimeout
	if attrTimeout == 0 {
		attrTimeout = time.Second
	}
	negativeTimeout := 100 * time.Millisecond

	server, err := fs.Mount(mountpoint, New(mgr, facade), &fs.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		RootStableAttr:  &fs.StableAttr{Ino: root, Mode: syscall.S_IFDIR},
		MountOptions: fuse.MountOptions{
			FsName:     "cloudfs",
			Name:       "cloudfs",
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot mount %s: %w", mountpoint, err)
	}
	log.WithField("mountpoint", mountpoint).WithField("files", files).Info("filesystem mounted")
	return server, nil
}
