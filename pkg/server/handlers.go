package server

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/ratelimit"
	"github.com/jingkaihe/skillbox/pkg/skills"
	"github.com/jingkaihe/skillbox/pkg/sop"
	"github.com/jingkaihe/skillbox/pkg/version"
)

const maxBodySize = 1 << 20

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sop.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, sop.ErrInvalidTransition):
		return http.StatusConflict
	case sop.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get().Version,
	})
}

// handleListSkills handles GET /skills
func (s *Server) handleListSkills(w http.ResponseWriter, _ *http.Request) {
	list := make([]*skills.Skill, 0, len(s.deps.Skills))
	for _, skill := range s.deps.Skills {
		list = append(list, skill)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"skills": list})
}

type classifyRequest struct {
	Command string `json:"command"`
}

// handleClassify handles POST /classify
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "command is required", nil)
		return
	}

	assessment := s.deps.Classifier.Classify(req.Command)
	s.metrics.classifications.WithLabelValues(string(assessment.Level)).Inc()
	s.writeJSONResponse(w, http.StatusOK, assessment)
}

// handleListDefinitions handles GET /sop/definitions
func (s *Server) handleListDefinitions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"definitions": s.definitions.List()})
}

type startRunRequest struct {
	SOP    string            `json:"sop"`
	Inputs map[string]string `json:"inputs"`
}

// handleStartRun handles POST /sop/runs
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	def, ok := s.definitions.Get(req.SOP)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "SOP "+strconv.Quote(req.SOP)+" not found", nil)
		return
	}

	run, err := s.deps.Runner.Start(r.Context(), def, req.Inputs)
	if err != nil {
		s.writeErrorResponse(w, statusFor(err), "failed to start run", err)
		return
	}
	s.metrics.sopTransitions.WithLabelValues("start", string(run.Status)).Inc()
	s.writeJSONResponse(w, http.StatusCreated, run)
}

// handleListRuns handles GET /sop/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := sop.RunFilter{
		SOP:    query.Get("sop"),
		Status: sop.Status(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		filter.Limit = limit
	}

	runs, err := s.deps.Runner.List(r.Context(), filter)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*sop.Run{}
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun handles GET /sop/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runner.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, statusFor(err), "failed to get run", err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, run)
}

// handleAudit handles GET /sop/runs/{id}/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if _, err := s.deps.Runner.Get(ctx, id); err != nil {
		s.writeErrorResponse(w, statusFor(err), "failed to get run", err)
		return
	}
	entries, err := s.deps.Runner.AuditLog(ctx, id)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to read audit log", err)
		return
	}
	if entries == nil {
		entries = []sop.AuditEntry{}
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"entries": entries})
}

type runActionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// handleRunAction handles POST /sop/runs/{id}/{approve|reject|cancel|retry}
func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	id, action := vars["id"], vars["action"]

	var req runActionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	if req.Actor == "" {
		req.Actor = "api:" + clientAddr(r)
	}

	var run *sop.Run
	var err error
	switch action {
	case "approve":
		run, err = s.deps.Runner.Approve(ctx, id, req.Actor, req.Note)
	case "reject":
		run, err = s.deps.Runner.Reject(ctx, id, req.Actor, req.Note)
	case "cancel":
		run, err = s.deps.Runner.Cancel(ctx, id, req.Actor, req.Note)
	case "retry":
		run, err = s.deps.Runner.Retry(ctx, id, req.Actor)
	}
	if err != nil {
		s.writeErrorResponse(w, statusFor(err), "failed to "+action+" run", err)
		return
	}

	s.metrics.sopTransitions.WithLabelValues(action, string(run.Status)).Inc()
	s.writeJSONResponse(w, http.StatusOK, run)
}

// handleRateLimit handles POST /ratelimit/{key}
func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limiter == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "rate limiter is not configured", nil)
		return
	}
	key := mux.Vars(r)["key"]
	peek := r.URL.Query().Get("peek") == "true"

	var (
		decision ratelimit.Decision
		err      error
	)
	if peek {
		decision, err = s.deps.Limiter.Status(r.Context(), key)
	} else {
		decision, err = s.deps.Limiter.Allow(r.Context(), key)
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to check rate limit", err)
		return
	}

	status := http.StatusOK
	if !peek {
		s.metrics.rateLimitChecks.WithLabelValues(strconv.FormatBool(decision.Allowed)).Inc()
	}
	if !decision.Allowed {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
	}
	s.writeJSONResponse(w, status, decision)
}
