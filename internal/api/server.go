// Package api serves replay reports and stored replay sessions over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/devicetime/internal/analysis"
	"github.com/banshee-data/devicetime/internal/db"
	"github.com/banshee-data/devicetime/internal/monitoring"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the report of the replay just run and, when a database is
// open, the sessions stored in it. Either may be nil.
type Server struct {
	report *analysis.Report
	db     *db.DB
}

func NewServer(report *analysis.Report, db *db.DB) *Server {
	return &Server{
		report: report,
		db:     db,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with the API, the chart page and a /debug/
// residuals entry mounted.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/report", s.showReport)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/estimates", s.listEstimates)
	mux.HandleFunc("GET /charts/residuals", s.residualChart)

	debug := tsweb.Debugger(mux)
	debug.Handle("residuals", "Residual chart of this replay", http.HandlerFunc(s.residualChart))
	return mux
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		writeJSONError(w, http.StatusNotFound, "no replay report loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.report)
}

func (s *Server) residualChart(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		http.Error(w, "no replay report loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := analysis.WriteHTML(w, s.report.Results, s.report.Source); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// requireDB reports whether session routes can be served, writing a 503
// when no database is open.
func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no replay database configured")
		return false
	}
	return true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	sessions, err := s.db.ListSessions()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to list sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []*db.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// sessionDetail is a stored session with its per-algorithm summaries.
type sessionDetail struct {
	*db.Session
	Summaries []db.Summary `json:"summaries"`
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	sess, err := s.db.GetSession(id)
	if errors.Is(err, db.ErrSessionNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries, err := s.db.Summaries(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to load summaries: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{Session: sess, Summaries: summaries})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.db.DeleteSession(id); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	algorithm := r.URL.Query().Get("algorithm")
	if algorithm == "" {
		writeJSONError(w, http.StatusBadRequest, "algorithm parameter is required")
		return
	}
	estimates, err := s.db.Estimates(r.PathValue("id"), algorithm)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to load estimates: "+err.Error())
		return
	}
	if estimates == nil {
		estimates = []db.Estimate{}
	}
	writeJSON(w, http.StatusOK, estimates)
}
