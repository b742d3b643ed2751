package file_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/csweichel/cloudfs/pkg/file"
	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/google/go-cmp/cmp"
	"github.com/hanwen/go-fuse/v2/fuse"
)

func TestFromRemote(t *testing.T) {
	mtime := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	owner := fuse.Owner{Uid: 1000, Gid: 1000}

	type Expectation struct {
		Kind  file.Kind
		Mode  uint32
		Size  uint64
		Nlink uint32
		Mtime uint64
	}
	tests := []struct {
		Name        string
		Object      remote.Object
		Expectation Expectation
	}{
		{
			Name:        "file with defaults",
			Object:      remote.Object{ID: "1", Name: "a.txt", Size: 1025, ModTime: mtime},
			Expectation: Expectation{Kind: file.RegularFile, Mode: syscall.S_IFREG | 0644, Size: 1025, Nlink: 1, Mtime: uint64(mtime.Unix())},
		},
		{
			Name:        "directory",
			Object:      remote.Object{ID: "2", Name: "sub", Dir: true},
			Expectation: Expectation{Kind: file.Directory, Mode: syscall.S_IFDIR | 0755, Nlink: 2},
		},
		{
			Name:        "explicit mode",
			Object:      remote.Object{ID: "3", Name: "run.sh", Mode: 0100755},
			Expectation: Expectation{Kind: file.RegularFile, Mode: syscall.S_IFREG | 0755, Nlink: 1},
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			obj := test.Object
			f := file.FromRemote(7, &obj, owner)

			act := Expectation{
				Kind:  f.Kind(),
				Mode:  f.Attr.Mode,
				Size:  f.Attr.Size,
				Nlink: f.Attr.Nlink,
				Mtime: f.Attr.Mtime,
			}
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("FromRemote() mismatch (-want +got):\n%s", diff)
			}
			if f.Inode() != 7 || f.Attr.Owner != owner {
				t.Errorf("unexpected identity: ino=%d owner=%v", f.Inode(), f.Attr.Owner)
			}
			if rid, ok := f.RemoteID(); !ok || rid != obj.ID {
				t.Errorf("RemoteID() = %q, %v", rid, ok)
			}
		})
	}
}

func TestNew(t *testing.T) {
	f := file.New(3, "notes", 0600, fuse.Owner{})
	if f.IsDir() || f.Attr.Mode != syscall.S_IFREG|0600 {
		t.Errorf("unexpected mode %o", f.Attr.Mode)
	}
	if _, ok := f.RemoteID(); ok {
		t.Error("new local file should have no remote id")
	}

	d := file.New(4, "dir", syscall.S_IFDIR|0700, fuse.Owner{})
	if !d.IsDir() || d.Attr.Mode != syscall.S_IFDIR|0700 {
		t.Errorf("unexpected mode %o", d.Attr.Mode)
	}

	desc := d.Descriptor()
	if !desc.Dir || desc.Name != "dir" || desc.Mode != 0700 {
		t.Errorf("unexpected descriptor %+v", desc)
	}

	f.SetRemoteID("r1")
	if rid, ok := f.RemoteID(); !ok || rid != "r1" || f.Remote.Name != "notes" {
		t.Errorf("SetRemoteID() did not attach a descriptor: %+v", f.Remote)
	}
}

func TestRoots(t *testing.T) {
	root := file.NewRoot(1, "root-id", fuse.Owner{})
	if root.Name != file.RootName || !root.IsDir() {
		t.Errorf("unexpected root %+v", root)
	}
	if rid, _ := root.RemoteID(); rid != "root-id" {
		t.Errorf("root remote id = %q", rid)
	}

	v := file.NewVirtualDir(2, "Shared with me", fuse.Owner{})
	if !v.IsDir() || v.Remote != nil {
		t.Errorf("unexpected virtual dir %+v", v)
	}
}
