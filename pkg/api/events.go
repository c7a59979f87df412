package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/modhost/pkg/audit"
	"github.com/platinummonkey/modhost/pkg/httputil"
)

const maxEventLimit = 1000

// listEvents serves the audit trail, optionally scoped to one module. Events
// outlive their module, so an unknown name is not an error.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := s.audit.Events(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if format == audit.ExportFormatJSON {
		if events == nil {
			events = []*audit.Event{}
		}
		_ = httputil.WriteSuccess(w, map[string]interface{}{"events": events})
		return
	}
	data, err := audit.Export(events, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseEventFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Module: mux.Vars(r)["name"],
		Type:   audit.EventType(q.Get("type")),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("since must be an RFC 3339 timestamp: %w", err)
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = min(limit, maxEventLimit)
	}
	failed, err := httputil.ParseQueryBool(r, "failed", false)
	if err != nil {
		return filter, err
	}
	filter.FailedOnly = failed
	return filter, nil
}
