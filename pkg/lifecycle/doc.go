// Package lifecycle drives modules through their states.
//
// A module moves from REGISTERED through INSTALLED to ENABLED and back via
// DISABLED, with ERROR as the parking state for any failed transition:
//
//	install:   REGISTERED, ERROR            -> INSTALLING -> INSTALLED
//	enable:    INSTALLED, DISABLED, ERROR   -> ENABLING   -> ENABLED
//	disable:   ENABLED                      -> DISABLING  -> DISABLED
//	update:    any stable state but ERROR   -> UPDATING   -> same state
//	uninstall: DISABLED, REGISTERED, INSTALLED, ERROR -> REMOVING -> (deleted)
//
// Every transition is claimed with a per-module lock and a compare-and-swap
// on the registry status, so at most one transition per module runs at a
// time across every host sharing the registry. A claim that loses is
// rejected with registry.ErrStatusConflict; callers retry, nothing queues.
//
// Enabling resolves the module's code, calls Initialize, then mounts its
// routes under /modules/<name> and registers its jobs. A failure at any step
// unwinds the steps before it so a module is either fully reachable or not
// reachable at all.
package lifecycle
