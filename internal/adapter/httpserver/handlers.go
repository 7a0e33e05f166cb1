package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/biz-intel-reporter/internal/config"
	"github.com/fairyhunter13/biz-intel-reporter/internal/domain"
	"github.com/fairyhunter13/biz-intel-reporter/internal/usecase"
)

// CleanupRunner triggers a retention sweep on demand. Implemented by the
// postgres cleanup service.
type CleanupRunner interface {
	CleanupOldData(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Profiles    usecase.ProfileService
	Reports     usecase.ReportService
	Cleanup     CleanupRunner
	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, profiles usecase.ProfileService, reports usecase.ReportService, cleanup CleanupRunner, dbCheck, redisCheck, brokerCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:         cfg,
		Profiles:    profiles,
		Reports:     reports,
		Cleanup:     cleanup,
		DBCheck:     dbCheck,
		RedisCheck:  redisCheck,
		BrokerCheck: brokerCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// acceptsJSON rejects requests whose Accept header excludes JSON. Only JSON
// responses are supported.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code: "INVALID_ARGUMENT", Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

// ProfileHandler ingests a business profile submission.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			Name           string  `json:"name" validate:"required,max=200"`
			Sector         string  `json:"sector" validate:"required,max=100"`
			State          string  `json:"state" validate:"required,max=50"`
			County         string  `json:"county" validate:"max=100"`
			YearsOperating int     `json:"years_operating" validate:"gte=0"`
			EmployeeCount  int     `json:"employee_count" validate:"gte=0"`
			AnnualRevenue  float64 `json:"annual_revenue" validate:"gte=0"`
			Description    string  `json:"description" validate:"max=5000"`
			Goals          string  `json:"goals" validate:"max=5000"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		id, err := s.Profiles.Submit(r.Context(), domain.BusinessProfile{
			Name:           req.Name,
			Sector:         req.Sector,
			State:          req.State,
			County:         req.County,
			YearsOperating: req.YearsOperating,
			EmployeeCount:  req.EmployeeCount,
			AnnualRevenue:  req.AnnualRevenue,
			Description:    req.Description,
			Goals:          req.Goals,
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("profile submit: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// ProfileGetHandler returns a stored profile.
func (s *Server) ProfileGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if !ValidID(id) {
			writeError(w, r, fmt.Errorf("%w: malformed id", domain.ErrInvalidArgument), nil)
			return
		}
		p, err := s.Profiles.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              p.ID,
			"name":            p.Name,
			"sector":          p.Sector,
			"state":           p.State,
			"county":          p.County,
			"years_operating": p.YearsOperating,
			"employee_count":  p.EmployeeCount,
			"annual_revenue":  p.AnnualRevenue,
			"description":     p.Description,
			"goals":           p.Goals,
			"created_at":      p.CreatedAt,
		})
	}
}

// ReportHandler enqueues a report generation job for a profile.
func (s *Server) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		var req struct {
			ProfileID string `json:"profile_id" validate:"required,max=100"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: profile_id required", domain.ErrInvalidArgument), nil)
			return
		}
		idemKey := SanitizeString(r.Header.Get("Idempotency-Key"))
		jobID, err := s.Reports.Enqueue(r.Context(), req.ProfileID, idemKey)
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": string(domain.JobQueued)})
	}
}

// ReportStatusHandler returns job status, and the report when completed.
// Conditional requests via If-None-Match are answered 304.
func (s *Server) ReportStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if !ValidID(id) {
			writeError(w, r, fmt.Errorf("%w: malformed id", domain.ErrInvalidArgument), nil)
			return
		}
		status, body, etag, err := s.Reports.Fetch(r.Context(), id, r.Header.Get("If-None-Match"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("ETag", etag)
		if status == http.StatusNotModified {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, body)
	}
}

// AdminCleanupHandler triggers a retention sweep.
func (s *Server) AdminCleanupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Cleanup == nil {
			writeError(w, r, fmt.Errorf("%w: cleanup not configured", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.Cleanup.CleanupOldData(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the DB, Redis and the message broker.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(ctx context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"broker", s.BrokerCheck},
		}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: p.name, OK: true})
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
