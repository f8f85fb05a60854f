package webdav

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

const davPrefix = "/dav"

type davNode struct {
	dir     bool
	id      string
	etag    string
	mtime   time.Time
	content []byte
}

// davServer is a small in-memory WebDAV collection rooted at /dav/.
type davServer struct {
	mu        sync.Mutex
	nodes     map[string]*davNode
	seq       int
	now       time.Time
	propfinds int
}

func newDAVServer(t *testing.T) (*davServer, *httptest.Server) {
	t.Helper()
	s := &davServer{
		nodes: map[string]*davNode{},
		now:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	s.nodes["/"] = &davNode{dir: true, id: "root", etag: "e0", mtime: s.now}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *davServer) setNow(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

func (s *davServer) propfindCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propfinds
}

func (s *davServer) lookup(p string) (string, *davNode) {
	for _, k := range []string{p, strings.TrimSuffix(p, "/"), p + "/"} {
		if n, ok := s.nodes[k]; ok {
			return k, n
		}
	}
	return "", nil
}

func davParent(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	return trimmed[:strings.LastIndex(trimmed, "/")+1]
}

// bump gives p and its ancestors a fresh etag.
func (s *davServer) bump(p string) {
	for k := p; k != ""; k = davParent(k) {
		s.seq++
		s.nodes[k].etag = fmt.Sprintf("e%d", s.seq)
		if k == "/" {
			return
		}
	}
}

func (s *davServer) create(p string, n *davNode) {
	s.seq++
	n.id = fmt.Sprintf("id%d", s.seq)
	n.mtime = s.now
	s.nodes[p] = n
	s.nodes[davParent(p)].mtime = s.now
	s.bump(p)
}

func (s *davServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := strings.CutPrefix(r.URL.Path, davPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if p == "" {
		p = "/"
	}

	switch r.Method {
	case MethodPropfind:
		s.propfinds++
		key, n := s.lookup(p)
		if n == nil {
			http.NotFound(w, r)
			return
		}
		keys := []string{key}
		if r.Header.Get(HeaderDepth) == "1" && n.dir {
			for k := range s.nodes {
				if k != key && davParent(k) == key {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys[1:])
		}
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, `<?xml version="1.0"?><d:multistatus xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">`)
		for _, k := range keys {
			s.writeResponse(w, k, s.nodes[k])
		}
		io.WriteString(w, `</d:multistatus>`)

	case MethodMkcol:
		if _, n := s.lookup(p); n != nil {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimSuffix(p, "/") + "/"
		if s.nodes[davParent(key)] == nil {
			w.WriteHeader(http.StatusConflict)
			return
		}
		s.create(key, &davNode{dir: true})
		w.WriteHeader(http.StatusCreated)

	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		key, n := s.lookup(p)
		switch {
		case n != nil && n.dir:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case n != nil:
			n.content = body
			n.mtime = s.now
			s.bump(key)
			w.WriteHeader(http.StatusNoContent)
		case s.nodes[davParent(p)] == nil:
			w.WriteHeader(http.StatusConflict)
		default:
			s.create(p, &davNode{content: body})
			w.WriteHeader(http.StatusCreated)
		}

	case http.MethodGet:
		_, n := s.lookup(p)
		if n == nil || n.dir {
			http.NotFound(w, r)
			return
		}
		w.Write(n.content)

	case MethodMove:
		key, n := s.lookup(p)
		if n == nil {
			http.NotFound(w, r)
			return
		}
		dest, err := url.Parse(r.Header.Get(HeaderDestination))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		to := strings.TrimPrefix(dest.Path, davPrefix)
		if n.dir {
			to = strings.TrimSuffix(to, "/") + "/"
		} else {
			to = strings.TrimSuffix(to, "/")
		}
		if _, taken := s.lookup(to); taken != nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if s.nodes[davParent(to)] == nil {
			w.WriteHeader(http.StatusConflict)
			return
		}
		moved := map[string]*davNode{}
		for k, child := range s.nodes {
			if k == key || (n.dir && strings.HasPrefix(k, key)) {
				moved[to+strings.TrimPrefix(k, key)] = child
				delete(s.nodes, k)
			}
		}
		for k, child := range moved {
			s.nodes[k] = child
		}
		s.nodes[davParent(key)].mtime = s.now
		s.nodes[davParent(to)].mtime = s.now
		s.bump(davParent(key))
		s.bump(to)
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		key, n := s.lookup(p)
		if n == nil {
			http.NotFound(w, r)
			return
		}
		for k := range s.nodes {
			if k == key || (n.dir && strings.HasPrefix(k, key)) {
				delete(s.nodes, k)
			}
		}
		s.nodes[davParent(key)].mtime = s.now
		s.bump(davParent(key))
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *davServer) writeResponse(w io.Writer, key string, n *davNode) {
	href := (&url.URL{Path: davPrefix + key}).EscapedPath()
	resourceType := ""
	if n.dir {
		resourceType = "<d:collection/>"
	}
	fmt.Fprintf(w, `<d:response><d:href>%s</d:href><d:propstat><d:prop>`+
		`<d:resourcetype>%s</d:resourcetype><d:getetag>"%s"</d:getetag>`+
		`<d:getlastmodified>%s</d:getlastmodified><oc:fileid>%s</oc:fileid>`+
		`</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`,
		href, resourceType, n.etag, n.mtime.Format(http.TimeFormat), n.id)
}
