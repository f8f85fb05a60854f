package webdav

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openmined/treesync/internal/treesync"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <d:resourcetype/>
    <d:getetag/>
    <d:getlastmodified/>
    <oc:fileid/>
  </d:prop>
</d:propfind>`

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	ResourceType struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
	ETag         string `xml:"DAV: getetag"`
	LastModified string `xml:"DAV: getlastmodified"`
	FileID       string `xml:"http://owncloud.org/ns fileid"`
}

// found returns the properties the server could answer.
func (r response) found() (prop, bool) {
	for _, ps := range r.Propstats {
		if strings.Contains(ps.Status, " 200 ") {
			return ps.Prop, true
		}
	}
	return prop{}, false
}

func cleanETag(etag string) string {
	etag = strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	return strings.Trim(etag, `"`)
}

// parseMultistatus converts a PROPFIND answer into entries. Paths are made
// relative to basePath and NFC-normalized; the parent id is left to the
// caller.
func parseMultistatus(body []byte, basePath string) ([]treesync.Entry, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadMultiStat, err)
	}

	entries := make([]treesync.Entry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		p, ok := r.found()
		if !ok {
			continue
		}
		u, err := url.Parse(r.Href)
		if err != nil {
			return nil, fmt.Errorf("%w: href %q: %w", ErrBadMultiStat, r.Href, err)
		}
		rel, ok := strings.CutPrefix(u.Path, strings.TrimSuffix(basePath, "/"))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, u.Path)
		}

		var modTime time.Time
		if p.LastModified != "" {
			modTime, err = http.ParseTime(p.LastModified)
			if err != nil {
				return nil, fmt.Errorf("%w: last modified %q: %w", ErrBadMultiStat, p.LastModified, err)
			}
		}

		entries = append(entries, treesync.Entry{
			Side:         treesync.SideRemote,
			Path:         treesync.NormalizePath(rel, p.ResourceType.Collection != nil),
			ETag:         cleanETag(p.ETag),
			ID:           p.FileID,
			LastModified: modTime.UTC(),
			Ref:          r.Href,
		})
	}
	return entries, nil
}
