package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger receives panics and task errors. Replace it at startup to route
// them to the process logger.
var Logger logrus.FieldLogger = logrus.StandardLogger()

// SafeGo runs fn in a goroutine with panic recovery and error logging.
// A positive timeout bounds the task; zero or negative means no deadline
// beyond parentCtx's own.
//
//	SafeGo(ctx, 0, "enable billing-sync", func(ctx context.Context) error {
//		return controller.runEnable(ctx, rec)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, fn)
}

// SafeGoNoError is SafeGo for functions that cannot fail
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			Logger.WithFields(logrus.Fields{
				"task":  taskName,
				"stack": string(debug.Stack()),
			}).Errorf("Recovered panic in background task: %v", r)
		}
	}()

	if err = fn(ctx); err != nil {
		Logger.WithError(err).WithField("task", taskName).Error("Background task failed")
	}
	return err
}

// Group tracks SafeGo tasks so a caller can wait for them on shutdown
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn like SafeGo and tracks it
func (g *Group) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		_ = run(parentCtx, timeout, taskName, fn)
	}()
}

// Wait blocks until every tracked task finished or ctx is done
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batch runs fn for every item with at most workers concurrent calls, each
// bounded by timeout. It returns the errors of the failed items.
//
//	errs := Batch(ctx, handles, 4, "module cleanup", 10*time.Second, func(ctx context.Context, h *handle) error {
//		return h.cleanup(ctx)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, workers)
	for _, item := range items {
		item := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := run(ctx, timeout, taskName, func(ctx context.Context) error { return fn(ctx, item) }); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}
