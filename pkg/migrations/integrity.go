package migrations

import (
	"context"
	"fmt"
	"sort"
)

// IntegrityKind classifies an integrity finding
type IntegrityKind string

const (
	// IntegrityModified means the file changed after it was applied
	IntegrityModified IntegrityKind = "modified"
	// IntegrityMissing means an applied file is no longer on disk
	IntegrityMissing IntegrityKind = "missing"
)

// IntegrityError describes one applied migration whose file no longer matches
type IntegrityError struct {
	Module         string        `json:"module"`
	Filename       string        `json:"filename"`
	Kind           IntegrityKind `json:"kind"`
	RecordedDigest string        `json:"recorded_digest"`
	ActualDigest   string        `json:"actual_digest,omitempty"`
}

func (e IntegrityError) Error() string {
	if e.Kind == IntegrityMissing {
		return fmt.Sprintf("migration %s for module %s was applied but is missing", e.Filename, e.Module)
	}
	return fmt.Sprintf("migration %s for module %s was modified after apply", e.Filename, e.Module)
}

// VerifyMigrationIntegrity compares applied migrations with the files in dir.
// It never writes or repairs anything.
func (r *Runner) VerifyMigrationIntegrity(ctx context.Context, module, dir string) ([]IntegrityError, error) {
	applied, err := r.store.SuccessfulMigrations(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied migrations for %s: %w", module, err)
	}
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}

	onDisk := make(map[string]string, len(files))
	for _, f := range files {
		onDisk[f.Name] = f.Digest
	}

	names := make([]string, 0, len(applied))
	for name := range applied {
		names = append(names, name)
	}
	sort.Strings(names)

	findings := []IntegrityError{}
	for _, name := range names {
		rec := applied[name]
		digest, present := onDisk[name]
		switch {
		case !present:
			findings = append(findings, IntegrityError{
				Module: module, Filename: name, Kind: IntegrityMissing, RecordedDigest: rec.Digest,
			})
		case digest != rec.Digest:
			findings = append(findings, IntegrityError{
				Module: module, Filename: name, Kind: IntegrityModified, RecordedDigest: rec.Digest, ActualDigest: digest,
			})
		}
	}
	return findings, nil
}
