package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by all instrumented facades of a registry.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytesWritten prometheus.Counter
	bytesRead    prometheus.Counter
}

// NewMetrics registers the remote collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudfs_remote_operations_total",
				Help: "Total number of remote operations",
			},
			[]string{"op", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudfs_remote_operation_duration_seconds",
				Help:    "Remote operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		bytesWritten: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cloudfs_remote_bytes_written_total",
				Help: "Total bytes written to the remote",
			},
		),
		bytesRead: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cloudfs_remote_bytes_read_total",
				Help: "Total bytes read from the remote",
			},
		),
	}
}

func (m *Metrics) observe(op string, t0 time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(t0).Seconds())
}

// Instrumented records metrics for every call to the wrapped facade.
type Instrumented struct {
	Facade  Facade
	Metrics *Metrics
}

var (
	_ Facade    = (*Instrumented)(nil)
	_ Reader    = (*Instrumented)(nil)
	_ Remover   = (*Instrumented)(nil)
	_ Truncater = (*Instrumented)(nil)
)

// Instrument wraps f so that its operations are recorded in m.
func Instrument(f Facade, m *Metrics) *Instrumented {
	return &Instrumented{Facade: f, Metrics: m}
}

// RootID implements Facade
func (i *Instrumented) RootID(ctx context.Context) (string, error) {
	t0 := time.Now()
	id, err := i.Facade.RootID(ctx)
	i.Metrics.observe("root", t0, err)
	return id, err
}

// ListChildren implements Facade
func (i *Instrumented) ListChildren(ctx context.Context, id string) (res []*Object, err error) {
	t0 := time.Now()
	res, err = i.Facade.ListChildren(ctx, id)
	i.Metrics.observe("list", t0, err)
	return res, err
}

// Create implements Facade
func (i *Instrumented) Create(ctx context.Context, desc *Object) (string, error) {
	t0 := time.Now()
	id, err := i.Facade.Create(ctx, desc)
	i.Metrics.observe("create", t0, err)
	return id, err
}

// Write implements Facade
func (i *Instrumented) Write(ctx context.Context, id string, offset int64, data []byte) error {
	t0 := time.Now()
	err := i.Facade.Write(ctx, id, offset, data)
	i.Metrics.observe("write", t0, err)
	if err == nil {
		i.Metrics.bytesWritten.Add(float64(len(data)))
	}
	return err
}

// Read implements Reader. It returns ErrUnsupported if the wrapped facade cannot read.
func (i *Instrumented) Read(ctx context.Context, id string, dst []byte, offset int64) (int, error) {
	r, ok := i.Facade.(Reader)
	if !ok {
		return 0, fmt.Errorf("%w: %T cannot read content", ErrUnsupported, i.Facade)
	}

	t0 := time.Now()
	n, err := r.Read(ctx, id, dst, offset)
	if errors.Is(err, io.EOF) {
		i.Metrics.observe("read", t0, nil)
	} else {
		i.Metrics.observe("read", t0, err)
	}
	i.Metrics.bytesRead.Add(float64(n))
	return n, err
}

// Remove implements Remover. Facades that cannot remove are treated as read-only.
func (i *Instrumented) Remove(ctx context.Context, id string) error {
	r, ok := i.Facade.(Remover)
	if !ok {
		return ErrReadOnly
	}

	t0 := time.Now()
	err := r.Remove(ctx, id)
	i.Metrics.observe("remove", t0, err)
	return err
}

// Truncate implements Truncater. It returns ErrUnsupported if the wrapped facade cannot truncate.
func (i *Instrumented) Truncate(ctx context.Context, id string, size uint64) error {
	t, ok := i.Facade.(Truncater)
	if !ok {
		return fmt.Errorf("%w: %T cannot truncate", ErrUnsupported, i.Facade)
	}

	t0 := time.Now()
	err := t.Truncate(ctx, id, size)
	i.Metrics.observe("truncate", t0, err)
	return err
}
