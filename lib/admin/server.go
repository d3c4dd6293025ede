package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/dMDS/lib/session"
	"github.com/ValentinKolb/dMDS/lib/sessionmap"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("admin")

// Server is the HTTP admin API of one session map.
type Server struct {
	sm    *sessionmap.SessionMap
	mux   *http.ServeMux
	httpd *http.Server
}

// NewServer creates the admin API for sm. With debug set every request is logged.
func NewServer(sm *sessionmap.SessionMap, debug bool) *Server {
	s := &Server{sm: sm, mux: http.NewServeMux()}

	handle := func(pattern string, h http.HandlerFunc) {
		if debug {
			h = loggerMiddleware(h)
		}
		s.mux.HandleFunc(pattern, h)
	}
	handle("GET /status", s.handleStatus)
	handle("GET /sessions", s.handleSessions)
	handle("POST /save", s.handleSave)
	handle("GET /metrics", s.handleMetrics)
	return s
}

// Handler returns the handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves the API on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.httpd = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	log.Infof("Starting admin server on %s", addr)
	if err := s.httpd.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sm.Stats())
}

// SessionView is the JSON form of a session entry.
type SessionView struct {
	ID                string            `json:"id"`
	Addr              string            `json:"addr"`
	CompletedRequests []uint64          `json:"completed_requests"`
	PreallocInodes    []uint64          `json:"prealloc_inodes"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	LastRenewal       time.Time         `json:"last_renewal"`
}

// NewSessionView converts e into its JSON form.
func NewSessionView(e session.Entry) SessionView {
	return SessionView{
		ID:                e.ID.String(),
		Addr:              e.Addr,
		CompletedRequests: e.CompletedRequests,
		PreallocInodes:    e.PreallocInodes,
		Metadata:          e.Metadata,
		LastRenewal:       e.LastRenewal,
	}
}

// DirectoryView is the JSON form of a session directory.
type DirectoryView struct {
	Version   uint64        `json:"version"`
	Committed uint64        `json:"committed"`
	Sessions  []SessionView `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	view := DirectoryView{Sessions: []SessionView{}}
	err := s.sm.Query(func(d *sessionmap.Directory) {
		view.Version = d.Version()
		view.Committed = d.Committed()
		d.Range(func(e session.Entry) bool {
			view.Sessions = append(view.Sessions, NewSessionView(e.Clone()))
			return true
		})
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SaveResult is the answer to a save request.
type SaveResult struct {
	Version   uint64 `json:"version"`
	Committed uint64 `json:"committed"`
}

// handleSave saves the map up to the version given by the target query
// parameter (default: the live version) and answers once it is durable.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var target uint64
	if raw := r.URL.Query().Get("target"); raw != "" {
		var err error
		if target, err = strconv.ParseUint(raw, 10, 64); err != nil {
			http.Error(w, "Invalid target", http.StatusBadRequest)
			return
		}
	}

	if err := s.sm.SaveSync(r.Context(), target); err != nil {
		switch {
		case errors.Is(err, sessionmap.ErrClosed):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case r.Context().Err() != nil:
			http.Error(w, "save did not complete", http.StatusGatewayTimeout)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	var res SaveResult
	if err := s.sm.Query(func(d *sessionmap.Directory) {
		res.Version, res.Committed = d.Version(), d.Committed()
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	vm.WritePrometheus(w, true)
	s.sm.WritePrometheus(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("writing response failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter captures the status code of a response
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
