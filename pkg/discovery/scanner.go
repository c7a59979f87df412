package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/registry"
)

// Candidate is a directory under the modules root that holds a manifest
type Candidate struct {
	Dir      string
	Document *manifest.Document
}

// Registrar registers the module installed in a directory
type Registrar interface {
	RegisterDir(ctx context.Context, dir string) (*registry.Record, error)
}

// Scanner lists module directories. Each immediate subdirectory of the root
// that contains a manifest is a candidate.
type Scanner struct {
	root  string
	cache *manifest.Cache
}

// NewScanner creates a scanner. A nil cache loads manifests uncached.
func NewScanner(root string, cache *manifest.Cache) *Scanner {
	return &Scanner{root: root, cache: cache}
}

// Root returns the scanned directory
func (s *Scanner) Root() string {
	return s.root
}

// Scan returns the candidates ordered by directory. Directories without a
// manifest are skipped; unreadable manifests are reported.
func (s *Scanner) Scan() ([]Candidate, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read modules root: %w", err)
	}

	var out []Candidate
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		doc, err := s.load(dir)
		if errors.Is(err, manifest.ErrNoManifest) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, Candidate{Dir: dir, Document: doc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, errors.Join(errs...)
}

func (s *Scanner) load(dir string) (*manifest.Document, error) {
	if s.cache != nil {
		return s.cache.LoadDir(dir)
	}
	return manifest.LoadDir(dir)
}

// RegisterAll registers every valid candidate not yet known to reg and
// returns the names it registered
func RegisterAll(ctx context.Context, s *Scanner, reg Registrar, log logrus.FieldLogger) ([]string, error) {
	candidates, scanErr := s.Scan()
	if scanErr != nil {
		log.WithError(scanErr).Warn("Some module directories could not be read")
	}

	var registered []string
	for _, c := range candidates {
		if !c.Document.Result.Valid {
			log.WithFields(logrus.Fields{
				"dir":    c.Dir,
				"errors": len(c.Document.Result.Errors),
			}).Warn("Skipping module with invalid manifest")
			continue
		}
		rec, err := reg.RegisterDir(ctx, c.Dir)
		if errors.Is(err, registry.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			log.WithError(err).WithField("dir", c.Dir).Warn("Failed to register module")
			continue
		}
		registered = append(registered, rec.Name)
	}
	if len(candidates) == 0 && scanErr != nil {
		return nil, scanErr
	}
	return registered, nil
}
