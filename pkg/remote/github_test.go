package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/google/go-cmp/cmp"
	"github.com/shurcooL/githubv4"
)

// githubTrees answers tree queries keyed by their "revision:path" expression.
var githubTrees = map[string]string{
	"main:": `{"data":{"repository":{"object":{"entries":[
		{"name":"README.md","type":"blob","path":"README.md","mode":33188,"object":{"byteSize":12}},
		{"name":"run.sh","type":"blob","path":"run.sh","mode":33261,"object":{"byteSize":3}},
		{"name":"pkg","type":"tree","path":"pkg","mode":16384,"object":{}},
		{"name":"vendor","type":"commit","path":"vendor","mode":57344,"object":{}}
	]}}}}`,
	"main:pkg": `{"data":{"repository":{"object":{"entries":[
		{"name":"main.go","type":"blob","path":"pkg/main.go","mode":33188,"object":{"byteSize":42}}
	]}}}}`,
}

func newGitHubServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string            `json:"query"`
			Variables map[string]string `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Variables["owner"] != "octo" || req.Variables["name"] != "repo" {
			io.WriteString(w, `{"data":null,"errors":[{"message":"Could not resolve to a Repository"}]}`)
			return
		}
		resp, ok := githubTrees[req.Variables["expr"]]
		if !ok {
			io.WriteString(w, `{"data":{"repository":{"object":null}}}`)
			return
		}
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGitHubListChildren(t *testing.T) {
	srv := newGitHubServer(t)

	tests := []struct {
		Name  string
		Repo  string
		ID    string
		Exp   []*remote.Object
		Error bool
	}{
		{
			Name: "root",
			Repo: "repo",
			ID:   remote.GitHubRootID,
			Exp: []*remote.Object{
				{ID: "README.md", Name: "README.md", Parents: []string{"."}, Mode: 0644, Size: 12},
				{ID: "run.sh", Name: "run.sh", Parents: []string{"."}, Mode: 0755, Size: 3},
				{ID: "pkg", Name: "pkg", Parents: []string{"."}, Dir: true},
				{ID: "vendor", Name: "vendor", Parents: []string{"."}, Dir: true},
			},
		},
		{
			Name: "subtree",
			Repo: "repo",
			ID:   "pkg",
			Exp: []*remote.Object{
				{ID: "pkg/main.go", Name: "main.go", Parents: []string{"pkg"}, Mode: 0644, Size: 42},
			},
		},
		{
			Name: "missing path",
			Repo: "repo",
			ID:   "nope",
			Exp:  []*remote.Object{},
		},
		{
			Name:  "unknown repository",
			Repo:  "other",
			ID:    remote.GitHubRootID,
			Error: true,
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			gh := &remote.GitHub{
				Client:   githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
				Owner:    "octo",
				Repo:     test.Repo,
				Revision: "main",
			}
			act, err := gh.ListChildren(context.Background(), test.ID)
			if test.Error {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.Exp, act); diff != "" {
				t.Errorf("ListChildren() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGitHubReadOnly(t *testing.T) {
	gh := &remote.GitHub{Owner: "octo", Repo: "repo", Revision: "main"}
	ctx := context.Background()

	if _, err := gh.Create(ctx, &remote.Object{Name: "a.txt"}); !errors.Is(err, remote.ErrReadOnly) {
		t.Errorf("Create: expected ErrReadOnly, got %v", err)
	}
	if err := gh.Write(ctx, "README.md", 0, []byte("x")); !errors.Is(err, remote.ErrReadOnly) {
		t.Errorf("Write: expected ErrReadOnly, got %v", err)
	}
	if err := gh.Remove(ctx, "README.md"); !errors.Is(err, remote.ErrReadOnly) {
		t.Errorf("Remove: expected ErrReadOnly, got %v", err)
	}
}
