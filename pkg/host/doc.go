// Package host serves module routes. Server is a mount table keyed by path
// prefix; the lifecycle controller mounts one handler per enabled module
// under /modules/<name> and unmounts it on disable:
//
//	srv := host.NewServer(log)
//	_ = srv.Mount("/modules/billing-sync", router)
//	http.ListenAndServe(":8080", srv)
//
// MiddlewareRegistry holds the named middleware a manifest route may list.
package host
