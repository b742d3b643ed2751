package remote

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Import copies the directories and regular files of a tar archive into the store,
// below the root container. Missing parent directories are created on the way.
func (s *Store) Import(ctx context.Context, in io.Reader) (files int, err error) {
	// maps a cleaned directory path to its object ID
	dirs := map[string]string{"": StoreRootID}

	tarf := tar.NewReader(in)
	for {
		hdr, err := tarf.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, err
		}
		if err := ctx.Err(); err != nil {
			return files, err
		}

		name := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		if name == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			_, err = s.mkdirAll(ctx, dirs, name, uint32(hdr.Mode))
			if err != nil {
				return files, err
			}

		case tar.TypeReg, tar.TypeRegA:
			dir, base := path.Split(name)
			parent, err := s.mkdirAll(ctx, dirs, strings.TrimSuffix(dir, "/"), 0755)
			if err != nil {
				return files, err
			}

			id, err := s.Create(ctx, &Object{
				Name:    base,
				Parents: []string{parent},
				Mode:    uint32(hdr.Mode) & 07777,
				ModTime: hdr.ModTime,
			})
			if err != nil {
				return files, fmt.Errorf("cannot create %s: %w", name, err)
			}

			content, err := io.ReadAll(tarf)
			if err != nil {
				return files, err
			}
			if len(content) > 0 {
				err = s.write(id, 0, content, hdr.ModTime)
				if err != nil {
					return files, fmt.Errorf("cannot write %s: %w", name, err)
				}
			}
			files++
			log.WithField("name", name).WithField("id", id).WithField("size", len(content)).Debug("imported file")

		default:
			log.WithField("name", name).WithField("type", string(hdr.Typeflag)).Warn("skipping unsupported tar entry")
		}
	}
}

func (s *Store) mkdirAll(ctx context.Context, dirs map[string]string, dir string, mode uint32) (string, error) {
	if id, ok := dirs[dir]; ok {
		return id, nil
	}

	parentDir, base := path.Split(dir)
	parent, err := s.mkdirAll(ctx, dirs, strings.TrimSuffix(parentDir, "/"), 0755)
	if err != nil {
		return "", err
	}

	id, err := s.Create(ctx, &Object{
		Name:    base,
		Parents: []string{parent},
		Dir:     true,
		Mode:    mode & 07777,
	})
	if err != nil {
		return "", fmt.Errorf("cannot create directory %s: %w", dir, err)
	}
	dirs[dir] = id
	return id, nil
}
