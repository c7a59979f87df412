package host

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/httputil"
)

var (
	// ErrPrefixInUse is returned when mounting over an existing prefix
	ErrPrefixInUse = errors.New("prefix already mounted")
	// ErrNotMounted is returned when unmounting an unknown prefix
	ErrNotMounted = errors.New("prefix not mounted")
)

// Server dispatches requests to handlers mounted under path prefixes.
// gorilla/mux routers cannot drop routes, so each module is mounted as one
// handler that can be swapped in and out here.
type Server struct {
	mu       sync.RWMutex
	mounts   map[string]http.Handler
	prefixes []string // longest first
	notFound http.Handler
	log      logrus.FieldLogger
}

// NewServer creates an empty mount table
func NewServer(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		mounts: make(map[string]http.Handler),
		notFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteNotFoundError(w, "no module serves "+r.URL.Path)
		}),
		log: log,
	}
}

// Mount serves h for every request under prefix. The handler sees the full
// request path.
func (s *Server) Mount(prefix string, h http.Handler) error {
	prefix = normalizePrefix(prefix)
	if prefix == "" {
		return fmt.Errorf("mount prefix must not be empty")
	}
	if h == nil {
		return fmt.Errorf("mount handler must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mounts[prefix]; exists {
		return fmt.Errorf("%w: %s", ErrPrefixInUse, prefix)
	}
	s.mounts[prefix] = h
	s.rebuild()
	s.log.WithField("prefix", prefix).Info("Mounted handler")
	return nil
}

// Unmount removes the handler mounted at prefix
func (s *Server) Unmount(prefix string) error {
	prefix = normalizePrefix(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mounts[prefix]; !exists {
		return fmt.Errorf("%w: %s", ErrNotMounted, prefix)
	}
	delete(s.mounts, prefix)
	s.rebuild()
	s.log.WithField("prefix", prefix).Info("Unmounted handler")
	return nil
}

// Mounted returns the mounted prefixes in sorted order
func (s *Server) Mounted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.mounts))
	for p := range s.mounts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h := s.match(r.URL.Path); h != nil {
		h.ServeHTTP(w, r)
		return
	}
	s.notFound.ServeHTTP(w, r)
}

func (s *Server) match(path string) http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, prefix := range s.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return s.mounts[prefix]
		}
	}
	return nil
}

// rebuild must be called with mu held
func (s *Server) rebuild() {
	s.prefixes = s.prefixes[:0]
	for p := range s.mounts {
		s.prefixes = append(s.prefixes, p)
	}
	sort.Slice(s.prefixes, func(i, j int) bool {
		if len(s.prefixes[i]) != len(s.prefixes[j]) {
			return len(s.prefixes[i]) > len(s.prefixes[j])
		}
		return s.prefixes[i] < s.prefixes[j]
	})
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
