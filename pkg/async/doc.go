// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// Every goroutine started here recovers panics and logs failures through
// Logger, so a misbehaving module cannot take the host process down.
//
// # Key Functions
//
// SafeGo: fire-and-forget task with optional timeout
//
//	async.SafeGo(ctx, 0, "enable billing-sync", func(ctx context.Context) error {
//		return enable(ctx)
//	})
//
// Group: tracked tasks that shutdown can wait for
//
//	var g async.Group
//	g.Go(ctx, 0, "install", install)
//	_ = g.Wait(shutdownCtx)
//
// Batch: bounded fan-out over a slice
//
//	errs := async.Batch(ctx, names, 4, "cleanup", 10*time.Second, cleanup)
//
// # Use Cases
//
// Background lifecycle transitions, module cleanup on shutdown, fan-out of
// capability calls.
package async
