// Package httpstore implements the remote.BatchCreator collaborator against
// an HTTP bulk-create endpoint. Batches are posted as one JSON document; the
// store resolves symbolic parent keys between nodes of the same request and
// responds with the server-assigned IDs.
package httpstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"resty.dev/v3"

	"github.com/vk/treepost/internal/hierarchy"
	"github.com/vk/treepost/internal/remote"
)

// defaultPath is the bulk-create endpoint relative to the base URL.
const defaultPath = "/nodes/bulk"

// Client posts node batches to a remote store over HTTP.
type Client struct {
	http *resty.Client
	path string
}

// Option customizes a Client.
type Option func(*Client)

// WithPath overrides the bulk-create endpoint path.
func WithPath(path string) Option {
	return func(c *Client) { c.path = path }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New returns a Client for the store at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().SetBaseURL(baseURL),
		path: defaultPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying HTTP client's resources.
func (c *Client) Close() error {
	c.http.Close()
	return nil
}

// wireNode is the JSON shape of one node in a bulk-create request.
type wireNode struct {
	Key       string            `json:"key"`
	ParentKey string            `json:"parent_key,omitempty"`
	ParentRef string            `json:"parent_ref,omitempty"`
	Name      string            `json:"name,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type createRequest struct {
	Nodes []wireNode `json:"nodes"`
}

// createdNode is the JSON shape of one node in a bulk-create response.
type createdNode struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	ParentRef string `json:"parent_ref,omitempty"`
	Name      string `json:"name,omitempty"`
}

type createResponse struct {
	Nodes []createdNode `json:"nodes"`
}

// CreateBatch implements remote.BatchCreator. HTTP 4xx responses come back
// as client-kind batch errors, 5xx as transient-kind; failures without a
// status code (transport errors, timeouts) are returned unclassified.
func (c *Client) CreateBatch(ctx context.Context, nodes []hierarchy.Node) ([]hierarchy.Node, error) {
	body := createRequest{Nodes: make([]wireNode, 0, len(nodes))}
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
		body.Nodes = append(body.Nodes, wireNode{
			Key:       n.Key,
			ParentKey: n.ParentKey,
			ParentRef: n.ParentRef,
			Name:      n.Name,
			Fields:    n.Fields,
		})
	}

	var result createResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetBody(body).
		SetResult(&result).
		Post(c.path)
	if err != nil {
		return nil, fmt.Errorf("bulk create call: %w", err)
	}

	if res.IsError() {
		kind := remote.KindTransient
		if res.StatusCode() < 500 {
			kind = remote.KindClient
		}
		return nil, &remote.BatchError{
			Kind:       kind,
			StatusCode: res.StatusCode(),
			Message:    strings.TrimSpace(res.String()),
			Keys:       keys,
		}
	}

	created := make([]hierarchy.Node, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		created = append(created, hierarchy.Node{
			Key:       n.Key,
			ParentRef: n.ParentRef,
			Name:      n.Name,
			ID:        n.ID,
		})
	}
	return created, nil
}
