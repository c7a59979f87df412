package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/modhost/pkg/httputil"
	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/lock"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/registry"
)

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *manifest.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, "invalid manifest", verr.Issues)
	case errors.Is(err, lifecycle.ErrNameMismatch),
		errors.Is(err, lifecycle.ErrInvalidInstallDir),
		errors.Is(err, manifest.ErrNoManifest):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, jobs.ErrNotRegistered):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, registry.ErrAlreadyExists),
		errors.Is(err, registry.ErrStatusConflict),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lock.ErrLocked):
		httputil.WriteConflict(w, err.Error())
	default:
		s.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		httputil.WriteInternalError(w, err)
	}
}
