package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openmined/treesync/internal/treesync"
	"github.com/openmined/treesync/internal/utils"
)

// Stat returns the server's view of path, or nil when it does not exist.
func (c *Client) Stat(ctx context.Context, path string) (*treesync.Entry, error) {
	entries, err := c.propfind(ctx, path, 0)
	if isNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty answer for %s", ErrBadMultiStat, path)
	}
	e := entries[0]
	if e.IsRoot() {
		return &e, nil
	}

	parents, err := c.propfind(ctx, treesync.ParentPath(e.Path), 0)
	if err != nil {
		return nil, fmt.Errorf("stat parent of %s: %w", path, err)
	}
	if len(parents) > 0 {
		e.ParentID = parents[0].ID
	}
	return &e, nil
}

func (c *Client) Mkdir(ctx context.Context, path string) (*treesync.Entry, error) {
	path = treesync.CleanPath(path, true)
	resp, err := c.http.R().
		SetContext(ctx).
		Send(MethodMkcol, c.urlFor(path))
	if err := handleResponse(resp, err, MethodMkcol, path); err != nil {
		return nil, err
	}
	slog.Debug("webdav mkdir", "path", path)
	return c.mustStat(ctx, path)
}

func (c *Client) PutContent(ctx context.Context, path string, data []byte) (*treesync.Entry, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", utils.DetectContentType(path)).
		SetBodyBytes(data).
		Put(c.urlFor(path))
	if err := handleResponse(resp, err, http.MethodPut, path); err != nil {
		return nil, err
	}
	slog.Debug("webdav put", "path", path, "size", len(data))
	return c.mustStat(ctx, path)
}

func (c *Client) GetContent(ctx context.Context, e treesync.Entry) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.urlFor(e.Path))
	if err := handleResponse(resp, err, http.MethodGet, e.Path); err != nil {
		return nil, err
	}
	return resp.ToBytes()
}

// Move renames from to to. An occupied target is never overwritten.
func (c *Client) Move(ctx context.Context, from, to string) (*treesync.Entry, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderDestination, c.urlFor(to)).
		SetHeader(HeaderOverwrite, "F").
		Send(MethodMove, c.urlFor(from))
	if err := handleResponse(resp, err, MethodMove, from); err != nil {
		return nil, err
	}
	slog.Debug("webdav move", "from", from, "to", to)
	return c.mustStat(ctx, to)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	if path == treesync.RootPath {
		return fmt.Errorf("%w: refusing to delete the root", treesync.ErrInvariant)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(c.urlFor(path))
	err = handleResponse(resp, err, http.MethodDelete, path)
	if err != nil && !isNotFound(err) {
		return err
	}
	slog.Debug("webdav delete", "path", path)
	return nil
}

// mustStat reads back an entry that a successful call just produced.
func (c *Client) mustStat(ctx context.Context, path string) (*treesync.Entry, error) {
	e, err := c.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s vanished after write", treesync.ErrNotFound, path)
	}
	return e, nil
}
