package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/modhost/pkg/httputil"
	"github.com/platinummonkey/modhost/pkg/jobs"
	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/migrations"
	"github.com/platinummonkey/modhost/pkg/registry"
)

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	records, err := s.ctrl.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]Module, 0, len(records))
	for _, rec := range records {
		out = append(out, toModule(rec, s.ctrl.IsLoaded(rec.Name), false))
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"modules": out})
}

func (s *Server) registerModule(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var (
		rec *registry.Record
		err error
	)
	switch {
	case req.Manifest != nil:
		rec, err = s.ctrl.Register(r.Context(), req.Manifest, req.InstallDir)
	case req.InstallDir != "":
		if err = lifecycle.CheckInstallDir(req.InstallDir); err == nil {
			rec, err = s.ctrl.RegisterDir(r.Context(), req.InstallDir)
		}
	default:
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, "manifest or install_dir is required")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, toModule(rec, false, true))
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	rec, err := s.ctrl.Get(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, toModule(rec, s.ctrl.IsLoaded(name), true))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	cmd := lifecycle.Command(mux.Vars(r)["command"])

	var update *lifecycle.UpdateRequest
	if cmd == lifecycle.CommandUpdate {
		var body UpdateRequest
		if !httputil.ParseJSONOrError(w, r, &body) {
			return
		}
		raw := body.Manifest
		if raw == nil {
			if body.InstallDir == "" {
				httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, "manifest or install_dir is required")
				return
			}
			if err := lifecycle.CheckInstallDir(body.InstallDir); err != nil {
				s.writeError(w, r, err)
				return
			}
			doc, err := manifest.LoadDir(body.InstallDir)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			raw = doc.Raw
		}
		update = &lifecycle.UpdateRequest{Raw: raw, InstallDir: body.InstallDir}
	}

	if err := s.ctrl.Submit(r.Context(), name, cmd, update); err != nil {
		s.writeError(w, r, err)
		return
	}

	accepted := Accepted{Module: name, Command: string(cmd)}
	if rec, err := s.ctrl.Get(r.Context(), name); err == nil {
		accepted.Status = rec.Status
	}
	s.log.WithField("module", name).WithField("command", cmd).Info("Accepted lifecycle command")
	_ = httputil.WriteAccepted(w, accepted)
}

func (s *Server) listMigrations(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	if _, err := s.ctrl.Get(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.history.ListMigrations(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"module": name, "migrations": records})
}

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	issues, err := s.ctrl.VerifyIntegrity(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []migrations.IntegrityError{}
	}
	_ = httputil.WriteSuccess(w, IntegrityReport{Module: name, OK: len(issues) == 0, Issues: issues})
}

func (s *Server) validateManifest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &raw) {
		return
	}
	_ = httputil.WriteSuccess(w, manifest.Validate(raw))
}

func (s *Server) widgets(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]interface{}{"widgets": s.contributions.Widgets()})
}

func (s *Server) navigation(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]interface{}{"navigation": s.contributions.Navigation()})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	defs := s.jobs.List()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key() < defs[j].Key() })

	out := make([]Job, 0, len(defs))
	for _, def := range defs {
		job := Job{Module: def.Module, Name: def.Name, Retries: def.Retries}
		if def.Schedule != nil {
			job.Schedule = *def.Schedule
		}
		if def.Timeout > 0 {
			job.Timeout = def.Timeout.String()
		}
		if next, ok := s.jobs.NextRun(def.Module, def.Name); ok {
			job.NextRun = &next
		}
		out = append(out, job)
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"jobs": out})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	job, ok := httputil.ParsePathStringOrError(w, r, "job")
	if !ok {
		return
	}
	if err := s.jobs.Trigger(r.Context(), name, job); err != nil {
		if errors.Is(err, jobs.ErrNotRegistered) {
			s.writeError(w, r, err)
			return
		}
		s.log.WithError(err).WithField("module", name).WithField("job", job).Warn("Job dispatch failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"module": name, "job": job, "dispatched": true})
}
