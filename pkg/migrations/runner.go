package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("modhost/migrations")

// ExecResult is what the database collaborator reports for one statement
type ExecResult struct {
	RowsAffected int64
}

// Executor runs a single SQL statement against the host database
type Executor interface {
	Execute(ctx context.Context, sql string) (ExecResult, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, sql string) (ExecResult, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, sql string) (ExecResult, error) {
	return f(ctx, sql)
}

// Observer receives one call per attempted migration file
type Observer interface {
	ObserveMigration(module string, success bool, elapsed time.Duration)
}

// Result is the outcome of one attempted file in a run
type Result struct {
	Filename     string `json:"filename"`
	Digest       string `json:"digest"`
	Success      bool   `json:"success"`
	ExecutionMS  int64  `json:"execution_ms"`
	RowsAffected int64  `json:"rows_affected"`
	Error        string `json:"error,omitempty"`
}

// MigrationError reports the file that stopped a run
type MigrationError struct {
	Module   string
	Filename string
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s for module %s failed: %v", e.Filename, e.Module, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Runner applies per-module migration files in filename order, exactly once each
type Runner struct {
	exec     Executor
	store    Store
	log      logrus.FieldLogger
	observer Observer
	now      func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner's logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

// WithObserver registers a metrics observer
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a runner that executes through exec and records to store
func NewRunner(exec Executor, store Store, opts ...Option) *Runner {
	r := &Runner{
		exec:  exec,
		store: store,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunModuleMigrations applies every pending file in dir for module. It stops at
// the first failing file and returns a *MigrationError; the returned results
// still describe every file attempted in this run. Running again after success
// returns an empty slice.
func (r *Runner) RunModuleMigrations(ctx context.Context, module, version, dir string) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "RunModuleMigrations",
		trace.WithAttributes(
			attribute.String("module", module),
			attribute.String("version", version),
		),
	)
	defer span.End()

	log := r.log.WithField("module", module)

	files, err := ListFiles(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list migrations")
		return nil, err
	}

	applied, err := r.store.SuccessfulMigrations(ctx, module)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load applied migrations")
		return nil, fmt.Errorf("failed to load applied migrations for %s: %w", module, err)
	}

	results := []Result{}
	for _, file := range files {
		if _, done := applied[file.Name]; done {
			continue
		}

		result, runErr := r.applyFile(ctx, module, file)
		results = append(results, result)

		rec := &Record{
			ModuleName:    module,
			ModuleVersion: version,
			Filename:      file.Name,
			Digest:        file.Digest,
			Success:       result.Success,
			ExecutionMS:   result.ExecutionMS,
			ErrorMessage:  result.Error,
			AppliedAt:     r.now().UTC(),
		}
		if err := r.store.RecordMigration(context.WithoutCancel(ctx), rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to record migration")
			return results, fmt.Errorf("failed to record migration %s for %s: %w", file.Name, module, err)
		}

		if runErr != nil {
			log.WithError(runErr).WithField("migration", file.Name).Error("Migration failed")
			span.RecordError(runErr)
			span.SetStatus(codes.Error, "migration failed")
			return results, &MigrationError{Module: module, Filename: file.Name, Err: runErr}
		}
		log.WithFields(logrus.Fields{
			"migration":    file.Name,
			"execution_ms": result.ExecutionMS,
		}).Info("Applied migration")
	}

	span.SetAttributes(attribute.Int("applied", len(results)))
	return results, nil
}

// PendingMigrations returns the files in dir with no successful record for
// module, in apply order. A file whose last attempt failed is pending.
func (r *Runner) PendingMigrations(ctx context.Context, module, dir string) ([]File, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	applied, err := r.store.SuccessfulMigrations(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied migrations for %s: %w", module, err)
	}

	var pending []File
	for _, file := range files {
		if _, done := applied[file.Name]; !done {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

func (r *Runner) applyFile(ctx context.Context, module string, file File) (Result, error) {
	_, span := tracer.Start(ctx, "ApplyMigration",
		trace.WithAttributes(
			attribute.String("module", module),
			attribute.String("filename", file.Name),
		),
	)
	defer span.End()

	// Statements are never cancelled part-way.
	execCtx := context.WithoutCancel(ctx)

	result := Result{Filename: file.Name, Digest: file.Digest}
	start := r.now()
	var runErr error
	for i, stmt := range SplitStatements(string(file.Content)) {
		res, err := r.exec.Execute(execCtx, stmt)
		if err != nil {
			runErr = fmt.Errorf("statement %d: %w", i+1, err)
			break
		}
		result.RowsAffected += res.RowsAffected
	}
	elapsed := r.now().Sub(start)

	result.ExecutionMS = elapsed.Milliseconds()
	result.Success = runErr == nil
	if runErr != nil {
		result.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "statement failed")
	}
	if r.observer != nil {
		r.observer.ObserveMigration(module, result.Success, elapsed)
	}
	return result, runErr
}
