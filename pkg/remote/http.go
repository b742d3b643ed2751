package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/snabb/httpreaderat"
	"golang.org/x/oauth2"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the API endpoint, e.g. https://files.example.com/api/v1
	BaseURL string
	// Token is sent as bearer token if non-empty.
	Token   string
	Timeout time.Duration
	Retry   RetryConfig
}

// Client is a Facade for object stores speaking the cloudfs JSON API:
//
//	GET    /root                               {"id": ...}
//	GET    /objects/{id}/children?pageToken=   {"objects": [...], "nextPageToken": ...}
//	POST   /objects                            Object -> Object
//	PUT    /objects/{id}/content?offset=N      raw bytes
//	GET    /objects/{id}/content               raw bytes, supports Range
//	DELETE /objects/{id}
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryConfig
}

var (
	_ Facade  = (*Client)(nil)
	_ Reader  = (*Client)(nil)
	_ Remover = (*Client)(nil)
)

type rootResponse struct {
	ID string `json:"id"`
}

type listResponse struct {
	Objects       []*Object `json:"objects"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

// NewClient creates an HTTP facade.
func NewClient(ctx context.Context, cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	httpClient := &http.Client{}
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		httpClient = oauth2.NewClient(ctx, src)
	}
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		retry:   cfg.Retry,
	}
}

func objectPath(id string, rest ...string) string {
	return "/objects/" + url.PathEscape(id) + strings.Join(rest, "")
}

// do performs a request with retries and decodes a JSON response into out if out is
// not nil.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out interface{}) error {
	op := method + " " + path
	return withRetry(ctx, c.retry, op, func() error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		t0 := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return retryable(err)
		}
		defer resp.Body.Close()
		log.WithField("op", op).WithField("status", resp.StatusCode).WithField("duration", time.Since(t0)).Debug("remote call")

		if err := statusError(resp); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s %s: %s: %s", resp.Request.Method, resp.Request.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrUnknownObject, err)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %v", ErrNotEmpty, err)
	case resp.StatusCode == http.StatusMethodNotAllowed, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrReadOnly, err)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return retryable(err)
	default:
		return err
	}
}

// RootID implements Facade
func (c *Client) RootID(ctx context.Context) (string, error) {
	var res rootResponse
	err := c.do(ctx, http.MethodGet, "/root", nil, "", &res)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("remote returned an empty root id")
	}
	return res.ID, nil
}

// ListChildren implements Facade
func (c *Client) ListChildren(ctx context.Context, id string) ([]*Object, error) {
	var (
		res   []*Object
		token string
	)
	for {
		path := objectPath(id, "/children")
		if token != "" {
			path += "?pageToken=" + url.QueryEscape(token)
		}

		var page listResponse
		err := c.do(ctx, http.MethodGet, path, nil, "", &page)
		if err != nil {
			return nil, err
		}
		res = append(res, page.Objects...)

		if page.NextPageToken == "" {
			return res, nil
		}
		token = page.NextPageToken
	}
}

// Create implements Facade
func (c *Client) Create(ctx context.Context, desc *Object) (string, error) {
	body, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}

	var res Object
	err = c.do(ctx, http.MethodPost, "/objects", body, "application/json", &res)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("remote did not assign an id to %s", desc.Name)
	}
	return res.ID, nil
}

// Write implements Facade
func (c *Client) Write(ctx context.Context, id string, offset int64, data []byte) error {
	path := objectPath(id, "/content") + "?offset=" + strconv.FormatInt(offset, 10)
	if data == nil {
		data = []byte{}
	}
	return c.do(ctx, http.MethodPut, path, data, "application/octet-stream", nil)
}

// Read implements Reader
func (c *Client) Read(ctx context.Context, id string, dst []byte, offset int64) (n int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+objectPath(id, "/content"), nil)
	if err != nil {
		return 0, err
	}

	err = withRetry(ctx, c.retry, "read "+id, func() error {
		r, err := httpreaderat.New(c.http, req, nil)
		if err != nil {
			return retryable(err)
		}
		if offset >= r.Size() {
			return io.EOF
		}
		n, err = r.ReadAt(dst, offset)
		return err
	})
	return n, err
}

// Remove implements Remover
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, objectPath(id), nil, "", nil)
}
