package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/openmined/treesync/internal/treesync"
	"golang.org/x/sync/errgroup"
)

// propfind runs a PROPFIND on path and returns the parsed entries.
func (c *Client) propfind(ctx context.Context, path string, depth int) ([]treesync.Entry, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderDepth, strconv.Itoa(depth)).
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBodyString(propfindBody).
		Send(MethodPropfind, c.urlFor(path))
	if err := handleResponse(resp, err, MethodPropfind, path); err != nil {
		return nil, err
	}
	body, err := resp.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("read propfind body %s: %w", path, err)
	}
	return parseMultistatus(body, c.base.Path)
}

// listDir returns the directory itself and its direct children, with the
// children's parent id filled in.
func (c *Client) listDir(ctx context.Context, dir string) (*treesync.Entry, []treesync.Entry, error) {
	entries, err := c.propfind(ctx, dir, 1)
	if err != nil {
		return nil, nil, err
	}

	var self *treesync.Entry
	children := make([]treesync.Entry, 0, len(entries))
	for i := range entries {
		if entries[i].Path == dir {
			self = &entries[i]
			continue
		}
		children = append(children, entries[i])
	}
	if self == nil {
		return nil, nil, fmt.Errorf("%w: %s missing from its own listing", ErrBadMultiStat, dir)
	}

	kept := children[:0]
	for _, child := range children {
		if c.skipped(child.Path) {
			continue
		}
		child.ParentID = self.ID
		kept = append(kept, child)
	}
	if self.IsRoot() {
		self.ParentID = ""
	}

	if self.ETag != "" {
		c.listings.Add(cacheKey(self.Path, self.ETag), kept)
	}
	return self, kept, nil
}

func cacheKey(path, etag string) string {
	return path + "\x00" + etag
}

// children lists dir, reusing a cached listing while the directory etag is
// unchanged.
func (c *Client) children(ctx context.Context, dir treesync.Entry) ([]treesync.Entry, error) {
	if dir.ETag != "" {
		if cached, ok := c.listings.Get(cacheKey(dir.Path, dir.ETag)); ok {
			return cached, nil
		}
	}
	_, children, err := c.listDir(ctx, dir.Path)
	return children, err
}

func (c *Client) Children(ctx context.Context, dir treesync.Entry) ([]treesync.Entry, error) {
	children, err := c.children(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := make([]treesync.Entry, len(children))
	copy(out, children)
	return out, nil
}

func (c *Client) FetchAll(ctx context.Context) ([]treesync.Entry, error) {
	return c.walk(ctx, time.Time{})
}

func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]treesync.Entry, error) {
	return c.walk(ctx, since)
}

// walk lists the tree one level at a time, running the listings of a level
// concurrently. A non-zero since keeps only entries modified after it; the
// root is always kept.
func (c *Client) walk(ctx context.Context, since time.Time) ([]treesync.Entry, error) {
	start := time.Now()

	root, level, err := c.listDir(ctx, treesync.RootPath)
	if err != nil {
		return nil, fmt.Errorf("list root: %w", err)
	}

	all := []treesync.Entry{*root}
	requests := 1
	for len(level) > 0 {
		all = append(all, level...)

		var dirs []treesync.Entry
		for _, e := range level {
			if e.IsDir() {
				dirs = append(dirs, e)
			}
		}

		results := make([][]treesync.Entry, len(dirs))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for i, dir := range dirs {
			g.Go(func() error {
				children, err := c.children(gctx, dir)
				if err != nil {
					return fmt.Errorf("list %s: %w", dir.Path, err)
				}
				results[i] = children
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		requests += len(dirs)

		level = level[:0:0]
		for _, children := range results {
			level = append(level, children...)
		}
	}

	if !since.IsZero() {
		kept := all[:1]
		for _, e := range all[1:] {
			if e.LastModified.After(since) {
				kept = append(kept, e)
			}
		}
		all = kept
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Path < all[j].Path
	})

	slog.Debug("webdav walk", "entries", len(all), "listings", requests, "since", since, "took", time.Since(start))
	return all, nil
}
