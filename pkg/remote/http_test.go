package remote_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/csweichel/cloudfs/pkg/remote"
	"github.com/google/go-cmp/cmp"
)

// fakeAPI is an in-memory implementation of the JSON API the Client speaks.
type fakeAPI struct {
	mu       sync.Mutex
	objects  map[string]*remote.Object
	children map[string][]string
	content  map[string][]byte
	nextID   int

	token    string
	failNext int
	pageSize int
	requests []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects:  map[string]*remote.Object{"r": {ID: "r", Name: ".", Dir: true}},
		children: map[string][]string{},
		content:  map[string][]byte{},
		pageSize: 1,
	}
}

func (a *fakeAPI) add(parent string, obj *remote.Object, content string) string {
	a.nextID++
	obj.ID = fmt.Sprintf("obj-%d", a.nextID)
	obj.Parents = []string{parent}
	a.objects[obj.ID] = obj
	a.children[parent] = append(a.children[parent], obj.ID)
	if content != "" {
		a.content[obj.ID] = []byte(content)
		obj.Size = uint64(len(content))
	}
	return obj.ID
}

func (a *fakeAPI) failRequests(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = n
}

func (a *fakeAPI) requestCount(suffix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int
	for _, r := range a.requests {
		if strings.HasSuffix(r, suffix) {
			n++
		}
	}
	return n
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, r.Method+" "+r.URL.Path)

	if a.token != "" && r.Header.Get("Authorization") != "Bearer "+a.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if a.failNext > 0 {
		a.failNext--
		http.Error(w, "try again", http.StatusServiceUnavailable)
		return
	}

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/root":
		json.NewEncoder(w).Encode(map[string]string{"id": "r"})

	case r.URL.Path == "/objects" && r.Method == http.MethodPost:
		var desc remote.Object
		if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(desc.Parents) == 0 || a.objects[desc.Parents[0]] == nil {
			http.Error(w, "no such parent", http.StatusNotFound)
			return
		}
		a.add(desc.Parents[0], &desc, "")
		json.NewEncoder(w).Encode(desc)

	case len(segs) == 3 && segs[2] == "children":
		ids := a.children[segs[1]]
		start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
		end := start + a.pageSize
		if end > len(ids) {
			end = len(ids)
		}
		var page struct {
			Objects       []*remote.Object `json:"objects"`
			NextPageToken string           `json:"nextPageToken,omitempty"`
		}
		for _, id := range ids[start:end] {
			page.Objects = append(page.Objects, a.objects[id])
		}
		if end < len(ids) {
			page.NextPageToken = strconv.Itoa(end)
		}
		json.NewEncoder(w).Encode(page)

	case len(segs) == 3 && segs[2] == "content" && r.Method == http.MethodGet:
		c, ok := a.content[segs[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, segs[1], time.Time{}, bytes.NewReader(c))

	case len(segs) == 3 && segs[2] == "content" && r.Method == http.MethodPut:
		obj := a.objects[segs[1]]
		if obj == nil {
			http.NotFound(w, r)
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		data, _ := io.ReadAll(r.Body)
		c := a.content[segs[1]]
		if end := offset + len(data); end > len(c) {
			c = append(c, make([]byte, end-len(c))...)
		}
		copy(c[offset:], data)
		a.content[segs[1]] = c
		obj.Size = uint64(len(c))
		w.WriteHeader(http.StatusNoContent)

	case len(segs) == 2 && r.Method == http.MethodDelete:
		if len(a.children[segs[1]]) > 0 {
			http.Error(w, "not empty", http.StatusConflict)
			return
		}
		delete(a.objects, segs[1])
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *remote.Client {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	return remote.NewClient(context.Background(), remote.ClientConfig{
		BaseURL: srv.URL + "/",
		Token:   api.token,
		Retry: remote.RetryConfig{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     5 * time.Millisecond,
			Multiplier:  2,
		},
	})
}

func TestClientListChildren(t *testing.T) {
	api := newFakeAPI()
	api.token = "secret"
	api.add("r", &remote.Object{Name: "a.txt"}, "content of a")
	dir := api.add("r", &remote.Object{Name: "sub", Dir: true}, "")
	api.add("r", &remote.Object{Name: "c.txt"}, "")
	api.add(dir, &remote.Object{Name: "b.txt"}, "")

	c := newTestClient(t, api)
	ctx := context.Background()

	root, err := c.RootID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != "r" {
		t.Errorf("RootID() = %q, want r", root)
	}

	res, err := c.ListChildren(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	act := make([]string, 0, len(res))
	for _, o := range res {
		act = append(act, fmt.Sprintf("%s:%v", o.Name, o.Dir))
	}
	if diff := cmp.Diff([]string{"a.txt:false", "sub:true", "c.txt:false"}, act); diff != "" {
		t.Errorf("ListChildren() mismatch (-want +got):\n%s", diff)
	}

	// the fake serves one object per page
	if pages := api.requestCount("/children"); pages != 3 {
		t.Errorf("expected 3 page requests, got %d", pages)
	}
}

func TestClientCreateWriteRead(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()

	id, err := c.Create(ctx, &remote.Object{Name: "new.txt", Parents: []string{"r"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, id, 0, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, id, 6, []byte("there")); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, 5)
	n, err := c.Read(ctx, id, dst, 6)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatal(err)
	}
	if string(dst[:n]) != "there" {
		t.Errorf("Read() = %q, want there", dst[:n])
	}
	if _, err := c.Read(ctx, id, dst, 100); !errors.Is(err, io.EOF) {
		t.Errorf("read past end: expected io.EOF, got %v", err)
	}

	_, err = c.Create(ctx, &remote.Object{Name: "orphan", Parents: []string{"missing"}})
	if !errors.Is(err, remote.ErrUnknownObject) {
		t.Errorf("expected ErrUnknownObject, got %v", err)
	}
}

func TestClientRetry(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	api.failRequests(2)
	if _, err := c.RootID(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	api.failRequests(5)
	if _, err := c.RootID(context.Background()); err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if n := api.requestCount("/root"); n != 6 {
		t.Errorf("expected 6 requests, got %d", n)
	}
}

func TestClientRemove(t *testing.T) {
	api := newFakeAPI()
	dir := api.add("r", &remote.Object{Name: "sub", Dir: true}, "")
	f := api.add(dir, &remote.Object{Name: "b.txt"}, "")
	c := newTestClient(t, api)

	if err := c.Remove(context.Background(), dir); !errors.Is(err, remote.ErrNotEmpty) {
		t.Errorf("expected ErrNotEmpty, got %v", err)
	}
	if err := c.Remove(context.Background(), f); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
