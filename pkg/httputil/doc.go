// Package httputil holds the JSON response helpers, request parsing and
// net/http middleware shared by the admin API and the module mount server.
//
// Errors are written as {"error": "...", "details": ...}:
//
//	httputil.WriteNotFoundError(w, "module not found")
//	httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, "invalid manifest", issues)
//
// Middleware composes with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(log),
//		httputil.LoggingMiddleware(log),
//	)(router)
package httputil
