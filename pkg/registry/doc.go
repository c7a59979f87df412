// Package registry defines the persisted module record and the Store that holds it.
//
// # Overview
//
// The registry is the single source of truth for module identity, the
// verbatim manifest a module was registered with, and its lifecycle status.
// Every other piece of runtime state (loaded code, mounted routes, registered
// jobs) is derived from it and rebuilt on process start.
//
// # Status Compare-and-Swap
//
// TransitionStatus is the per-module exclusion primitive: a transition only
// starts if the record is still in one of the expected source states, so two
// concurrent enable calls on the same module cannot both win.
//
//	rec, err := store.TransitionStatus(ctx, "billing-sync",
//		[]registry.Status{registry.StatusInstalled, registry.StatusDisabled},
//		registry.StatusEnabling)
//	if errors.Is(err, registry.ErrStatusConflict) {
//		// someone else is already moving this module
//	}
//
// # Implementations
//
// MemoryStore lives here for tests and embedded hosts. The SQL implementation
// (Postgres and SQLite) lives in pkg/storage.
package registry
