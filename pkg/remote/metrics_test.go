package remote_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// writeOnly implements Facade only.
type writeOnly struct {
	err error
}

func (w writeOnly) RootID(ctx context.Context) (string, error) { return "r", nil }
func (w writeOnly) ListChildren(ctx context.Context, id string) ([]*remote.Object, error) {
	return nil, w.err
}
func (w writeOnly) Create(ctx context.Context, desc *remote.Object) (string, error) {
	return "", w.err
}
func (w writeOnly) Write(ctx context.Context, id string, offset int64, data []byte) error {
	return w.err
}

func TestInstrumented(t *testing.T) {
	s := newTestStore(t)
	reg := prometheus.NewRegistry()
	f := remote.Instrument(s, remote.NewMetrics(reg))
	ctx := context.Background()

	id, err := f.Create(ctx, &remote.Object{Name: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Write(ctx, id, 0, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := f.Write(ctx, "missing", 0, []byte("hello")); err == nil {
		t.Fatal("expected write to unknown object to fail")
	}
	dst := make([]byte, 16)
	if _, err := f.Read(ctx, id, dst, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ListChildren(ctx, remote.StoreRootID); err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(ctx, id, 2); err != nil {
		t.Fatal(err)
	}

	expected := `
# HELP cloudfs_remote_operations_total Total number of remote operations
# TYPE cloudfs_remote_operations_total counter
cloudfs_remote_operations_total{op="create",status="ok"} 1
cloudfs_remote_operations_total{op="list",status="ok"} 1
cloudfs_remote_operations_total{op="read",status="ok"} 1
cloudfs_remote_operations_total{op="truncate",status="ok"} 1
cloudfs_remote_operations_total{op="write",status="error"} 1
cloudfs_remote_operations_total{op="write",status="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "cloudfs_remote_operations_total"); err != nil {
		t.Error(err)
	}

	counters := []struct {
		Name string
		Exp  float64
	}{
		{Name: "cloudfs_remote_bytes_written_total", Exp: 5},
		{Name: "cloudfs_remote_bytes_read_total", Exp: 5},
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range counters {
		var found bool
		for _, mf := range mfs {
			if mf.GetName() != c.Name {
				continue
			}
			found = true
			if act := mf.GetMetric()[0].GetCounter().GetValue(); act != c.Exp {
				t.Errorf("%s = %v, want %v", c.Name, act, c.Exp)
			}
		}
		if !found {
			t.Errorf("metric %s not gathered", c.Name)
		}
	}
}

func TestInstrumentedUnsupported(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := remote.Instrument(writeOnly{err: errors.New("boom")}, remote.NewMetrics(reg))
	ctx := context.Background()

	if _, err := f.Read(ctx, "x", make([]byte, 1), 0); !errors.Is(err, remote.ErrUnsupported) {
		t.Errorf("Read: expected ErrUnsupported, got %v", err)
	}
	if err := f.Remove(ctx, "x"); !errors.Is(err, remote.ErrReadOnly) {
		t.Errorf("Remove: expected ErrReadOnly, got %v", err)
	}
	if err := f.Truncate(ctx, "x", 0); !errors.Is(err, remote.ErrUnsupported) {
		t.Errorf("Truncate: expected ErrUnsupported, got %v", err)
	}
	if _, err := f.ListChildren(ctx, "r"); err == nil {
		t.Error("ListChildren: expected error")
	}
	if n, err := testutil.GatherAndCount(reg, "cloudfs_remote_operations_total"); n != 1 || err != nil {
		t.Errorf("expected 1 operation series, got %d (%v)", n, err)
	}
}
