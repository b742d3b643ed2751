package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shurcooL/githubv4"
	log "github.com/sirupsen/logrus"
	"github.com/snabb/httpreaderat"
	"golang.org/x/oauth2"
)

// GitHubRootID is the ID of the repository root. All other IDs are paths.
const GitHubRootID = "."

// GitHub is a read-only Facade serving the tree of a repository at a revision.
type GitHub struct {
	Client     *githubv4.Client
	HTTPClient *http.Client
	Owner      string
	Repo       string
	Revision   string

	mu      sync.Mutex
	readers map[string]*httpreaderat.HTTPReaderAt
}

var (
	_ Facade  = (*GitHub)(nil)
	_ Reader  = (*GitHub)(nil)
	_ Remover = (*GitHub)(nil)
)

func NewGitHub(ctx context.Context, ghToken, owner, repo, revision string) *GitHub {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: ghToken},
	)
	httpClient := oauth2.NewClient(ctx, src)

	return &GitHub{
		Client:     githubv4.NewClient(httpClient),
		HTTPClient: httpClient,
		Owner:      owner,
		Repo:       repo,
		Revision:   revision,
		readers:    make(map[string]*httpreaderat.HTTPReaderAt),
	}
}

// RootID implements Facade
func (g *GitHub) RootID(ctx context.Context) (string, error) {
	return GitHubRootID, nil
}

// ListChildren implements Facade
func (g *GitHub) ListChildren(ctx context.Context, id string) ([]*Object, error) {
	var query struct {
		Repository struct {
			Object struct {
				Tree struct {
					Entries []struct {
						Name   githubv4.String
						Type   githubv4.String
						Path   githubv4.String
						Mode   githubv4.Int
						Object struct {
							Blob struct {
								ByteSize githubv4.Int
							} `graphql:"... on Blob"`
						}
					}
				} `graphql:"... on Tree"`
			} `graphql:"object(expression: $expr)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	path := id
	if id == GitHubRootID {
		path = ""
	}
	vars := map[string]interface{}{
		"owner": githubv4.String(g.Owner),
		"name":  githubv4.String(g.Repo),
		"expr":  githubv4.String(g.Revision + ":" + path),
	}

	log.WithField("vars", vars).Debug("fetching entries")
	t0 := time.Now()
	err := g.Client.Query(ctx, &query, vars)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch %s: %w", id, err)
	}
	log.WithField("duration", time.Since(t0)).Debug("done fetching entries")

	entries := query.Repository.Object.Tree.Entries
	res := make([]*Object, 0, len(entries))
	for _, entry := range entries {
		obj := &Object{
			ID:      string(entry.Path),
			Name:    string(entry.Name),
			Parents: []string{id},
			Dir:     entry.Type == "tree",
			Mode:    uint32(entry.Mode) & 0777,
			Size:    uint64(entry.Object.Blob.ByteSize),
		}
		// submodules ("commit") have no content we could serve
		if entry.Type == "commit" {
			obj.Dir = true
		}
		res = append(res, obj)
	}
	return res, nil
}

// Create implements Facade
func (g *GitHub) Create(ctx context.Context, desc *Object) (string, error) {
	return "", ErrReadOnly
}

// Write implements Facade
func (g *GitHub) Write(ctx context.Context, id string, offset int64, data []byte) error {
	return ErrReadOnly
}

// Remove implements Remover
func (g *GitHub) Remove(ctx context.Context, id string) error {
	return ErrReadOnly
}

// Read implements Reader
func (g *GitHub) Read(ctx context.Context, id string, dst []byte, offset int64) (n int, err error) {
	g.mu.Lock()
	r, ok := g.readers[id]
	if !ok {
		req, err := http.NewRequest("GET", fmt.Sprintf("https://github.com/%s/%s/raw/%s/%s", g.Owner, g.Repo, g.Revision, id), nil)
		if err != nil {
			g.mu.Unlock()
			return 0, err
		}

		r, err = httpreaderat.New(g.HTTPClient, req, nil)
		if err != nil {
			g.mu.Unlock()
			return 0, err
		}
		g.readers[id] = r
	}
	g.mu.Unlock()

	if offset >= r.Size() {
		return 0, io.EOF
	}
	return r.ReadAt(dst, offset)
}
