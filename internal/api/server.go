package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"leasecron/internal/cronexpr"
	"leasecron/internal/domain"
	"leasecron/internal/scheduler"
	"leasecron/internal/store"
)

type Server struct {
	r      *chi.Mux
	engine *scheduler.Engine
}

// NewServer serves the admin API for engine. Metrics come from gatherer, or
// the default registry when nil.
func NewServer(engine *scheduler.Engine, gatherer prometheus.Gatherer) http.Handler {
	return NewServerWithDebug(engine, gatherer, false)
}

func NewServerWithDebug(engine *scheduler.Engine, gatherer prometheus.Gatherer, enableDebug bool) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, engine: engine}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/api/schedules", s.createSchedule)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/schedules/{id}", s.getSchedule)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)
	r.Post("/api/stales", s.updateStales)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createScheduleReq struct {
	Cron                 string          `json:"cron"`
	Data                 json.RawMessage `json:"data"`
	LeaseSeconds         *int64          `json:"lease_seconds"`
	MaxStaleSeconds      *int64          `json:"max_stale_seconds"`
	RunTimeOffsetSeconds int64           `json:"run_time_offset_seconds"`
	TimeZone             string          `json:"time_zone"`
	Columns              map[string]any  `json:"columns"`
}

type createScheduleResp struct {
	ID int64 `json:"id"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Cron == "" {
		http.Error(w, "cron is required", 400)
		return
	}

	opts := []scheduler.AddOption{
		scheduler.WithRunTimeOffset(req.RunTimeOffsetSeconds),
		scheduler.WithTimeZone(req.TimeZone),
	}
	if len(req.Data) > 0 && string(req.Data) != "null" {
		opts = append(opts, scheduler.WithData(req.Data))
	}
	if req.LeaseSeconds != nil {
		opts = append(opts, scheduler.WithLeaseSeconds(*req.LeaseSeconds))
	}
	if req.MaxStaleSeconds != nil {
		opts = append(opts, scheduler.WithMaxStaleSeconds(*req.MaxStaleSeconds))
	}
	for k, v := range req.Columns {
		opts = append(opts, scheduler.WithColumn(k, v))
	}

	id, err := s.engine.Add(r.Context(), req.Cron, opts...)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, createScheduleResp{ID: id})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", 400)
			return
		}
		limit = n
	}
	rows, err := s.engine.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	writeJSON(w, 200, rows)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	row, err := s.engine.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, 200, row)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateStales(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.UpdateStales(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]int{"reconciled": n})
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", 400)
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cronexpr.ErrInvalidExpression),
		errors.Is(err, cronexpr.ErrInvalidTimeZone),
		errors.Is(err, store.ErrInvalidIdentifier):
		return http.StatusBadRequest
	}
	log.Error().Err(err).Msg("api request failed")
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
