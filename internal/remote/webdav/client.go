// Package webdav implements the remote side of a sync against a WebDAV
// server that exposes stable file ids (the ownCloud "oc:fileid" property).
package webdav

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"
	"github.com/openmined/treesync/internal/treesync"
	"github.com/openmined/treesync/internal/version"
)

const (
	HeaderDepth       = "Depth"
	HeaderDestination = "Destination"
	HeaderOverwrite   = "Overwrite"

	MethodPropfind = "PROPFIND"
	MethodMkcol    = "MKCOL"
	MethodMove     = "MOVE"

	defaultConcurrency = 8
	defaultCacheSize   = 4096
)

var UserAgent = fmt.Sprintf("%s/%s (%s; %s; %s)", version.AppName, version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

type options struct {
	username    string
	password    string
	concurrency int
	cacheSize   int
	timeout     time.Duration
	skip        func(path string) bool
}

type Option func(*options)

func WithBasicAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithConcurrency bounds the number of PROPFIND requests in flight during a
// walk.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithSkip prunes paths, and everything below them, from listings.
func WithSkip(skip func(path string) bool) Option {
	return func(o *options) {
		o.skip = skip
	}
}

// Client talks to one WebDAV collection. Paths given to its methods are
// relative to that collection.
type Client struct {
	http        *req.Client
	base        *url.URL
	concurrency int
	skip        func(path string) bool
	// listings caches directory children by path and etag
	listings *lru.Cache[string, []treesync.Entry]
}

func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, ErrNoServerURL
	}
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrNoServerURL, serverURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	o := options{
		concurrency: defaultConcurrency,
		cacheSize:   defaultCacheSize,
		timeout:     time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	listings, err := lru.New[string, []treesync.Entry](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}

	client := req.C().
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetTimeout(o.timeout).
		SetUserAgent(UserAgent)
	if o.username != "" {
		client.SetCommonBasicAuth(o.username, o.password)
	}

	return &Client{
		http:        client,
		base:        base,
		concurrency: o.concurrency,
		skip:        o.skip,
		listings:    listings,
	}, nil
}

// BaseURL is the collection the client syncs against.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// urlFor maps a sync path onto the server.
func (c *Client) urlFor(path string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + treesync.CleanPath(path, treesync.IsDirPath(path))
	u.RawPath = ""
	u.RawQuery = ""
	return u.String()
}

func (c *Client) skipped(path string) bool {
	return c.skip != nil && c.skip(path)
}

var _ treesync.Remote = (*Client)(nil)
