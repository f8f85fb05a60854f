package webdav

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/openmined/treesync/internal/treesync"
)

var (
	ErrNoServerURL  = errors.New("webdav: server url missing")
	ErrOutsideRoot  = errors.New("webdav: href outside the synced root")
	ErrBadMultiStat = errors.New("webdav: malformed multistatus response")
)

// StatusError is a non-success answer from the server.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webdav error: %s %s - %s", e.Method, e.Path, e.Status)
}

// Unwrap maps the status codes the sync cares about onto the treesync
// sentinels, so callers can test with errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound, http.StatusConflict:
		return treesync.ErrNotFound
	case http.StatusMethodNotAllowed, http.StatusPreconditionFailed:
		return treesync.ErrExists
	}
	return nil
}

// handleResponse turns a transport error or an error status into an error.
func handleResponse(resp *req.Response, requestErr error, method, path string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %s: %w", method, path, requestErr)
	}
	if resp.IsErrorState() {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
