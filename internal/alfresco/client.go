package alfresco

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// APIPath is appended to the server URL to reach the public node API.
const APIPath = "/alfresco/api/-default-/public/alfresco/versions/1"

// RootID is the alias of the repository root node.
const RootID = "-root-"

// Defaults used when the caller leaves them unset.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxItems = 100

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 16 << 20
)

// Config holds the connection settings.
type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left alone.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to one Alfresco repository.
type Client struct {
	base     string
	user     string
	password string
	http     *http.Client
	logger   zerolog.Logger
}

// New creates a client for the repository at cfg.URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidArgument, cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		base:     u.String() + APIPath,
		user:     cfg.User,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "alfresco").Logger()
	return c, nil
}

// do sends a request and returns the body of a 2xx response. Other
// statuses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (gjson.Result, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return gjson.Result{}, fmt.Errorf("alfresco %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("alfresco %s %s: reading body: %w", method, path, err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &APIError{
			StatusCode: resp.StatusCode,
			Summary:    gjson.GetBytes(data, "error.briefSummary").String(),
			Body:       data,
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("alfresco %s %s: response is not JSON", method, path)
	}
	return gjson.ParseBytes(data), nil
}

func nodePath(nodeID string, suffix string) string {
	return "/nodes/" + url.PathEscape(nodeID) + suffix
}

// Check verifies the repository is reachable with the configured credentials.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, nodePath(RootID, ""), nil, nil)
	return err
}

// ListRootChildren lists the children of the repository root.
func (c *Client) ListRootChildren(ctx context.Context, maxItems int) (Listing, error) {
	listing, err := c.NodeChildren(ctx, RootID, maxItems)
	if err != nil {
		return Listing{}, err
	}
	listing.Message = fmt.Sprintf("Found %d items in the repository root", listing.Total)
	return listing, nil
}

// NodeChildren lists up to maxItems children of a node.
func (c *Client) NodeChildren(ctx context.Context, nodeID string, maxItems int) (Listing, error) {
	if nodeID == "" {
		return Listing{}, fmt.Errorf("%w: node id is required", ErrInvalidArgument)
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	query := url.Values{}
	query.Set("maxItems", strconv.Itoa(maxItems))
	query.Set("include", "path,properties")
	res, err := c.do(ctx, http.MethodGet, nodePath(nodeID, "/children"), query, nil)
	if err != nil {
		return Listing{}, err
	}

	entries := res.Get("list.entries").Array()
	listing := Listing{
		ParentID: nodeID,
		Items:    make([]Node, 0, len(entries)),
	}
	for _, e := range entries {
		listing.Items = append(listing.Items, parseNode(e.Get("entry")))
	}
	listing.Total = len(listing.Items)
	if total := res.Get("list.pagination.totalItems"); total.Exists() {
		listing.Total = int(total.Int())
	}
	listing.Message = fmt.Sprintf("Found %d items in node %s", listing.Total, nodeID)
	return listing, nil
}

// NodeInfo returns one node with its path and properties.
func (c *Client) NodeInfo(ctx context.Context, nodeID string) (Node, error) {
	if nodeID == "" {
		return Node{}, fmt.Errorf("%w: node id is required", ErrInvalidArgument)
	}
	query := url.Values{}
	query.Set("include", "path,properties")
	res, err := c.do(ctx, http.MethodGet, nodePath(nodeID, ""), query, nil)
	if err != nil {
		return Node{}, err
	}
	return parseNode(res.Get("entry")), nil
}

// CreateFolder creates a folder under parentID (the root when empty).
// title and description are optional.
func (c *Client) CreateFolder(ctx context.Context, name, parentID, title, description string) (Created, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Created{}, fmt.Errorf("%w: folder name is required", ErrInvalidArgument)
	}
	if parentID == "" {
		parentID = RootID
	}

	body, err := folderBody(name, title, description)
	if err != nil {
		return Created{}, err
	}
	res, err := c.do(ctx, http.MethodPost, nodePath(parentID, "/children"), nil, body)
	if err != nil {
		return Created{}, err
	}

	entry := res.Get("entry")
	created := Created{
		Created:    true,
		FolderID:   entry.Get("id").String(),
		FolderName: entry.Get("name").String(),
		ParentID:   parentID,
	}
	if created.FolderName == "" {
		created.FolderName = name
	}
	created.Message = fmt.Sprintf("Folder '%s' created with id %s", created.FolderName, created.FolderID)
	c.logger.Info().Str("folder_id", created.FolderID).Str("parent_id", parentID).Msg("folder created")
	return created, nil
}

func folderBody(name, title, description string) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "name", name)
	if err == nil {
		body, err = sjson.SetBytes(body, "nodeType", "cm:folder")
	}
	if err == nil && title != "" {
		body, err = sjson.SetBytes(body, "properties.cm:title", title)
	}
	if err == nil && description != "" {
		body, err = sjson.SetBytes(body, "properties.cm:description", description)
	}
	if err != nil {
		return nil, fmt.Errorf("building folder request: %w", err)
	}
	return body, nil
}

// DeleteNode deletes a node. Without permanent the node goes to the trash
// can and can be restored.
func (c *Client) DeleteNode(ctx context.Context, nodeID string, permanent bool) (Deleted, error) {
	if nodeID == "" {
		return Deleted{}, fmt.Errorf("%w: node id is required", ErrInvalidArgument)
	}
	var query url.Values
	if permanent {
		query = url.Values{"permanent": []string{"true"}}
	}
	if _, err := c.do(ctx, http.MethodDelete, nodePath(nodeID, ""), query, nil); err != nil {
		return Deleted{}, err
	}

	msg := fmt.Sprintf("Node %s moved to the trash", nodeID)
	if permanent {
		msg = fmt.Sprintf("Node %s permanently deleted", nodeID)
	}
	c.logger.Info().Str("node_id", nodeID).Bool("permanent", permanent).Msg("node deleted")
	return Deleted{Deleted: true, NodeID: nodeID, Permanent: permanent, Message: msg}, nil
}

// FindByName looks for a direct child of parentID (the root when empty)
// with exactly the given name.
func (c *Client) FindByName(ctx context.Context, name, parentID string) (Node, error) {
	if name == "" {
		return Node{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if parentID == "" {
		parentID = RootID
	}
	listing, err := c.NodeChildren(ctx, parentID, 1000)
	if err != nil {
		return Node{}, err
	}
	for _, n := range listing.Items {
		if n.Name == name {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("%w: no node named %q in %s", ErrNotFound, name, parentID)
}

// BrowseByPath lists the folder at a slash separated path of names,
// starting at the root. "/" lists the root itself.
func (c *Client) BrowseByPath(ctx context.Context, path string) (Listing, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return c.ListRootChildren(ctx, DefaultMaxItems)
	}

	current := RootID
	for _, segment := range segments {
		node, err := c.FindByName(ctx, segment, current)
		if err != nil {
			return Listing{}, fmt.Errorf("browsing %s: %w", path, err)
		}
		if !node.IsFolder() {
			return Listing{}, fmt.Errorf("%w: %s is not a folder", ErrInvalidArgument, segment)
		}
		current = node.ID
	}

	listing, err := c.NodeChildren(ctx, current, DefaultMaxItems)
	if err != nil {
		return Listing{}, err
	}
	listing.Message = fmt.Sprintf("Browsing path %s: %d items", "/"+strings.Join(segments, "/"), listing.Total)
	return listing, nil
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
