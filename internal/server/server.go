package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/raysh454/ztguard/internal/network"
	"github.com/raysh454/ztguard/internal/scanner"
	"github.com/raysh454/ztguard/internal/threat"

	_ "github.com/raysh454/ztguard/internal/server/docs" // registers the swagger spec
)

// Deps are the engine services the API exposes.
type Deps struct {
	Scanner *scanner.Scanner
	Threats *threat.Service
	Alerts  *alerts.Service
	Network *network.Monitor
	Intel   *intel.Service
	Metrics *metrics.Metrics
	// Health reports readiness for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server is the HTTP + WebSocket API surface of the engine.
type Server struct {
	cfg      Config
	d        Deps
	router   chi.Router
	upgrader websocket.Upgrader
	limiter  *rateLimiter
	logger   logging.Logger
}

func NewServer(cfg Config, d Deps, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	s := &Server{
		cfg:    cfg,
		d:      d,
		router: chi.NewRouter(),
		logger: logger.With(logging.Field{Key: "component", Value: "server"}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return cfg.AllowedOrigin == "*" || r.Header.Get("Origin") == cfg.AllowedOrigin
			},
		},
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitPerMinute)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.d.Metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	r.Get("/ws/alerts", s.handleAlertsWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)

		// CORS preflight
		r.Options("/urls/scan", s.optionsHandler("POST"))
		r.Options("/urls/scan/batch", s.optionsHandler("POST"))
		r.Options("/urls/scans/{id}", s.optionsHandler("GET, DELETE"))
		r.Options("/urls/scans/{id}/status", s.optionsHandler("PATCH"))
		r.Options("/alerts", s.optionsHandler("GET, POST"))
		r.Options("/alerts/{id}", s.optionsHandler("GET, PATCH, DELETE"))
		r.Options("/alerts/mark-all-read", s.optionsHandler("POST"))
		r.Options("/alerts/acknowledge-all", s.optionsHandler("POST"))
		r.Options("/network/connections", s.optionsHandler("GET, POST"))
		r.Options("/network/block/{ip}", s.optionsHandler("POST"))
		r.Options("/network/unblock/{ip}", s.optionsHandler("POST"))
		r.Options("/intel/blacklist", s.optionsHandler("POST"))
		r.Options("/intel/whitelist", s.optionsHandler("POST"))
		r.Options("/intel/blacklist/{domain}", s.optionsHandler("DELETE"))
		r.Options("/intel/whitelist/{domain}", s.optionsHandler("DELETE"))

		// URL scans
		r.Post("/urls/scan", s.handleScan)
		r.Post("/urls/scan/batch", s.handleScanBatch)
		r.Get("/urls/scans", s.handleListScans)
		r.Get("/urls/scans/{id}", s.handleGetScan)
		r.Delete("/urls/scans/{id}", s.handleDeleteScan)
		r.Patch("/urls/scans/{id}/status", s.handleUpdateScanStatus)
		r.Get("/urls/stats", s.handleScanStats)
		r.Get("/urls/top-blocked-domains", s.handleTopDomains)

		// Alerts
		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts", s.handleCreateAlert)
		r.Get("/alerts/unread", s.handleUnreadAlerts)
		r.Get("/alerts/count", s.handleAlertCount)
		r.Get("/alerts/stats/timeline", s.handleAlertTimeline)
		r.Post("/alerts/mark-all-read", s.handleMarkAllRead)
		r.Post("/alerts/acknowledge-all", s.handleAcknowledgeAll)
		r.Get("/alerts/{id}", s.handleGetAlert)
		r.Patch("/alerts/{id}", s.handleUpdateAlert)
		r.Delete("/alerts/{id}", s.handleDeleteAlert)

		// Network
		r.Post("/network/connections", s.handleRecordConnection)
		r.Get("/network/connections", s.handleListConnections)
		r.Get("/network/stats", s.handleNetworkStats)
		r.Post("/network/block/{ip}", s.handleBlockIP)
		r.Post("/network/unblock/{ip}", s.handleUnblockIP)
		r.Get("/network/blocked", s.handleBlockedIPs)

		// Threat intel
		r.Get("/intel", s.handleIntel)
		r.Get("/intel/check", s.handleIntelCheck)
		r.Post("/intel/refresh", s.handleIntelRefresh)
		r.Post("/intel/blacklist", s.handleAddBlacklist)
		r.Post("/intel/whitelist", s.handleAddWhitelist)
		r.Delete("/intel/blacklist/{domain}", s.handleRemoveBlacklist)
		r.Delete("/intel/whitelist/{domain}", s.handleRemoveWhitelist)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.RawQuery; q != "" {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Debug("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // websocket streams
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.d.Health(ctx); err != nil {
			s.logger.Warn("health check failed", logging.Field{Key: "error", Value: err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InvalidURL:
		return http.StatusUnprocessableEntity
	case apperr.InvalidTransition, apperr.Conflict:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.ScoringUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeAppError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, logging.Field{Key: "error", Value: err.Error()})
		writeJSON(w, status, ErrorResponse{Error: "internal error"})
		return
	}
	s.logger.Warn(op, logging.Field{Key: "error", Value: err.Error()})
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))})
}

// decodeBody decodes a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return errors.New("request body is required")
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	return err
}

// intQuery parses an optional integer query parameter; def is returned when
// the parameter is absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.New(apperr.Validation, "query", "%s must be an integer", name)
	}
	return v, nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "query", "%s must be true or false", name)
	}
	return &v, nil
}
