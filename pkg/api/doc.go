// Package api is the administrative HTTP surface of the host.
//
//	GET  /api/v1/modules                         list registered modules
//	POST /api/v1/modules                         register from a manifest or install dir
//	GET  /api/v1/modules/{name}                  one module
//	POST /api/v1/modules/{name}/{command}        install, enable, disable, update, uninstall (202)
//	GET  /api/v1/modules/{name}/migrations       migration history
//	GET  /api/v1/modules/{name}/integrity        applied migration files that changed on disk
//	POST /api/v1/modules/{name}/jobs/{job}/run   dispatch a job now
//	GET  /api/v1/jobs                            registered jobs and their next run
//	POST /api/v1/manifests/validate              validate without registering
//	GET  /api/v1/contributions/widgets           dashboard widgets of loaded modules
//	GET  /api/v1/contributions/navigation        navigation of loaded modules
//	GET  /api/v1/events                          audit trail (type, since, limit, format)
//	GET  /api/v1/modules/{name}/events           audit trail of one module, kept after uninstall
//
// Lifecycle commands are accepted once the module has been claimed and run in
// the background; clients poll the module until its status settles. Errors
// map to 404 for unknown modules, 409 for status conflicts and 422 for
// invalid manifests.
package api
