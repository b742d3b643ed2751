package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

// StoreRootID is the ID of the root container of a Store.
const StoreRootID = "root"

const (
	objectPrefix  = "o/"
	childPrefix   = "c/"
	contentPrefix = "d/"

	sequenceKey       = "seq"
	sequenceBandwidth = 100
)

// Store is a Facade backed by a badger database. It stores object metadata, a child
// index per container and object content.
type Store struct {
	DB *badger.DB

	seq *badger.Sequence
}

var (
	_ Facade    = (*Store)(nil)
	_ Reader    = (*Store)(nil)
	_ Remover   = (*Store)(nil)
	_ Truncater = (*Store)(nil)
)

// OpenStore opens or creates a store in dir.
func OpenStore(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return NewStore(db)
}

// NewStore uses db as store, creating the root container if it does not exist.
func NewStore(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("cannot get id sequence: %w", err)
	}
	s := &Store{DB: db, seq: seq}

	err = db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(StoreRootID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putObject(txn, &Object{ID: StoreRootID, Name: ".", Dir: true, Mode: 0755, ModTime: time.Now()})
	})
	if err != nil {
		seq.Release()
		return nil, fmt.Errorf("cannot create root: %w", err)
	}

	return s, nil
}

// Close releases the id sequence and closes the database.
func (s *Store) Close() error {
	err := s.seq.Release()
	if cerr := s.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

func objectKey(id string) []byte {
	return []byte(objectPrefix + id)
}

func childKey(parent, id string) []byte {
	return []byte(childPrefix + parent + "/" + id)
}

func contentKey(id string) []byte {
	return []byte(contentPrefix + id)
}

func putObject(txn *badger.Txn, obj *Object) error {
	val, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return txn.Set(objectKey(obj.ID), val)
}

func getObject(txn *badger.Txn, id string) (*Object, error) {
	item, err := txn.Get(objectKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if err != nil {
		return nil, err
	}

	var obj Object
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func getContent(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(contentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) nextID() (string, error) {
	n, err := s.seq.Next()
	if err != nil {
		return "", err
	}
	// fixed width keeps the child index in creation order
	return fmt.Sprintf("%016x", n), nil
}

// RootID implements Facade
func (s *Store) RootID(ctx context.Context) (string, error) {
	return StoreRootID, nil
}

// Object returns the metadata of a single object.
func (s *Store) Object(ctx context.Context, id string) (*Object, error) {
	var res *Object
	err := s.DB.View(func(txn *badger.Txn) (err error) {
		res, err = getObject(txn, id)
		return err
	})
	return res, err
}

// ListChildren implements Facade
func (s *Store) ListChildren(ctx context.Context, id string) ([]*Object, error) {
	var res []*Object
	err := s.DB.View(func(txn *badger.Txn) error {
		parent, err := getObject(txn, id)
		if err != nil {
			return err
		}
		if !parent.Dir {
			return fmt.Errorf("%s is not a container", id)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(childPrefix + id + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			childID := strings.TrimPrefix(string(it.Item().Key()), string(opts.Prefix))
			obj, err := getObject(txn, childID)
			if err != nil {
				return err
			}
			res = append(res, obj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Create implements Facade
func (s *Store) Create(ctx context.Context, desc *Object) (string, error) {
	parentID, ok := desc.Parent()
	if !ok {
		parentID = StoreRootID
	}
	id, err := s.nextID()
	if err != nil {
		return "", fmt.Errorf("cannot allocate id: %w", err)
	}

	obj := *desc
	obj.ID = id
	obj.Parents = []string{parentID}
	if obj.ModTime.IsZero() {
		obj.ModTime = time.Now()
	}

	err = s.DB.Update(func(txn *badger.Txn) error {
		parent, err := getObject(txn, parentID)
		if err != nil {
			return err
		}
		if !parent.Dir {
			return fmt.Errorf("%s is not a container", parentID)
		}

		err = putObject(txn, &obj)
		if err != nil {
			return err
		}
		return txn.Set(childKey(parentID, id), nil)
	})
	if err != nil {
		return "", err
	}

	log.WithField("id", id).WithField("name", obj.Name).WithField("parent", parentID).Debug("created object")
	return id, nil
}

// Write implements Facade
func (s *Store) Write(ctx context.Context, id string, offset int64, data []byte) error {
	return s.write(id, offset, data, time.Now())
}

// write splices data into the content of id and sets its modification time to mtime.
func (s *Store) write(id string, offset int64, data []byte, mtime time.Time) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	return s.DB.Update(func(txn *badger.Txn) error {
		obj, err := getObject(txn, id)
		if err != nil {
			return err
		}
		if obj.Dir {
			return fmt.Errorf("%s is a container", id)
		}

		content, err := getContent(txn, id)
		if err != nil {
			return err
		}
		content = splice(content, offset, data)

		obj.Size = uint64(len(content))
		obj.ModTime = mtime
		err = putObject(txn, obj)
		if err != nil {
			return err
		}
		return txn.Set(contentKey(id), content)
	})
}

// Truncate implements Truncater
func (s *Store) Truncate(ctx context.Context, id string, size uint64) error {
	return s.DB.Update(func(txn *badger.Txn) error {
		obj, err := getObject(txn, id)
		if err != nil {
			return err
		}
		if obj.Dir {
			return fmt.Errorf("%s is a container", id)
		}

		content, err := getContent(txn, id)
		if err != nil {
			return err
		}
		content = resize(content, size)

		obj.Size = size
		obj.ModTime = time.Now()
		err = putObject(txn, obj)
		if err != nil {
			return err
		}
		return txn.Set(contentKey(id), content)
	})
}

// Read implements Reader
func (s *Store) Read(ctx context.Context, id string, dst []byte, offset int64) (n int, err error) {
	err = s.DB.View(func(txn *badger.Txn) error {
		if _, err := getObject(txn, id); err != nil {
			return err
		}
		item, err := txn.Get(contentKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return io.EOF
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if offset >= int64(len(val)) {
				return io.EOF
			}
			n = copy(dst, val[offset:])
			return nil
		})
	})
	return n, err
}

// Remove implements Remover
func (s *Store) Remove(ctx context.Context, id string) error {
	if id == StoreRootID {
		return fmt.Errorf("cannot remove the root container")
	}
	return s.DB.Update(func(txn *badger.Txn) error {
		obj, err := getObject(txn, id)
		if err != nil {
			return err
		}
		if obj.Dir {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(childPrefix + id + "/")
			it := txn.NewIterator(opts)
			it.Rewind()
			hasChildren := it.Valid()
			it.Close()
			if hasChildren {
				return fmt.Errorf("%w: %s", ErrNotEmpty, id)
			}
		}

		for _, p := range obj.Parents {
			if err := txn.Delete(childKey(p, id)); err != nil {
				return err
			}
		}
		if err := txn.Delete(contentKey(id)); err != nil {
			return err
		}
		return txn.Delete(objectKey(id))
	})
}
