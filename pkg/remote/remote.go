package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReadOnly is returned by facades that cannot modify the remote.
	ErrReadOnly = errors.New("remote is read-only")
	// ErrNotEmpty is returned when removing a container that still has children.
	ErrNotEmpty = errors.New("container is not empty")
	// ErrUnknownObject is returned when an ID does not name a remote object.
	ErrUnknownObject = errors.New("unknown remote object")
	// ErrUnsupported is returned when a facade does not implement an operation.
	ErrUnsupported = errors.New("operation not supported by remote")
)

// Facade is the remote object store as seen by the file manager.
type Facade interface {
	// RootID returns the ID of the container that is mounted as root.
	RootID(ctx context.Context) (string, error)

	// ListChildren returns the immediate children of a container, all pages
	// concatenated in listing order.
	ListChildren(ctx context.Context, id string) ([]*Object, error)

	// Create creates desc remotely and returns the ID the remote assigned.
	Create(ctx context.Context, desc *Object) (string, error)

	// Write writes data at offset into the object's content.
	Write(ctx context.Context, id string, offset int64, data []byte) error
}

// Reader is implemented by facades that can serve object content.
type Reader interface {
	Read(ctx context.Context, id string, dst []byte, offset int64) (n int, err error)
}

// Remover is implemented by facades that can delete objects.
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// Truncater is implemented by facades that can change the size of an object. Growing
// an object pads it with zeros.
type Truncater interface {
	Truncate(ctx context.Context, id string, size uint64) error
}

// Object is a remote listing entry. It doubles as the descriptor passed to Create,
// in which case ID is empty and Parents names the container to create it in.
type Object struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name"`
	Parents  []string  `json:"parents,omitempty"`
	Dir      bool      `json:"dir,omitempty"`
	Size     uint64    `json:"size,omitempty"`
	Mode     uint32    `json:"mode,omitempty"`
	ModTime  time.Time `json:"modTime,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
}

// Parent returns the first parent of the object, if any.
func (o *Object) Parent() (string, bool) {
	if len(o.Parents) == 0 {
		return "", false
	}
	return o.Parents[0], true
}
