// Package api serves the market data pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/marketdata"
	"github.com/nanzhong/marketdata/usage"
)

const (
	RouteMarketData = "/api/market-data"
	RouteCombined   = "/api/market-data/combined"
	RouteHealth     = "/healthz"

	routeOther = "other"

	maxBodyBytes  = 1 << 20
	sessionCookie = "session"

	rateLimitWarning = "Rate limit exceeded, serving cached data"
)

// Service is the pipeline the handlers call into.
type Service interface {
	Get(ctx context.Context, p marketdata.Params) (*marketdata.Response, error)
	Combined(ctx context.Context, req marketdata.CombinedRequest, caller usage.Caller) (*marketdata.CombinedResponse, error)
}

// Notifier receives alerts about unexpected errors.
type Notifier interface {
	Notify(ctx context.Context, title string, fields map[string]string) error
}

// Observer counts finished requests.
type Observer interface {
	ObserveRequest(route string, code int)
}

type Options struct {
	Service       Service
	Notifier      Notifier
	Metrics       Observer
	AllowedOrigin string
	Log           *logger.Log
}

type Handler struct {
	service       Service
	notifier      Notifier
	metrics       Observer
	allowedOrigin string
	log           *logger.Entry
	mux           *http.ServeMux
}

func NewHandler(opts Options) *Handler {
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	h := &Handler{
		service:       opts.Service,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		allowedOrigin: opts.AllowedOrigin,
		log:           opts.Log.WithComponent("api"),
		mux:           http.NewServeMux(),
	}
	if h.allowedOrigin == "" {
		h.allowedOrigin = "*"
	}

	h.mux.HandleFunc(RouteMarketData, h.handleMarketData)
	h.mux.HandleFunc(RouteCombined, h.handleCombined)
	h.mux.HandleFunc(RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.respondWithErr(w, r, newHTTPError(fmt.Errorf("no route for %s", r.URL.Path), codeNotFound, http.StatusNotFound))
	})
	return h
}

// Handle mounts an additional handler, such as the metrics endpoint, on the
// same mux.
func (h *Handler) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if p := recover(); p != nil {
			h.respondWithErr(rec, r, fmt.Errorf("panic serving %s: %v", r.URL.Path, p))
		}
		if h.metrics != nil {
			h.metrics.ObserveRequest(h.routeLabel(r), rec.status)
		}
	}()

	h.setCORS(rec)
	h.mux.ServeHTTP(rec, r)
}

// routeLabel is the registered pattern serving r, or "other" for anything
// that only matched the catch-all.
func (h *Handler) routeLabel(r *http.Request) string {
	if _, pattern := h.mux.Handler(r); pattern != "" && pattern != "/" {
		return pattern
	}
	return routeOther
}

func (h *Handler) handleMarketData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.preflight(w)
		return
	case http.MethodGet:
	default:
		h.respondWithErr(w, r, newHTTPError(fmt.Errorf("invalid method: %s", r.Method), codeMethodNotAllowed, http.StatusMethodNotAllowed))
		return
	}

	start := time.Now()
	q := r.URL.Query()
	p := marketdata.Params{
		Type:    q.Get("type"),
		Base:    q.Get("base"),
		Target:  q.Get("target"),
		Refresh: q.Get("refresh") == "true",
		Caller:  callerFromRequest(r),
	}
	if q.Has("symbols") {
		symbols := q.Get("symbols")
		p.Symbols = &symbols
	}

	resp, err := h.service.Get(r.Context(), p)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}

	lastUpdated := ""
	if !resp.LastUpdated.IsZero() {
		lastUpdated = resp.LastUpdated.UTC().Format(time.RFC3339)
	}
	h.respondOK(w, &successResponse{
		Data:           resp.Data,
		Source:         resp.Source,
		LastUpdated:    lastUpdated,
		ProcessingTime: processingTime(start),
		Warnings:       resp.Warnings,
		Usage:          resp.Usage,
		BudgetWarning:  resp.BudgetWarning,
	}, resp.RateLimited)
}

func (h *Handler) handleCombined(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h.preflight(w)
		return
	case http.MethodPost:
	default:
		h.respondWithErr(w, r, newHTTPError(fmt.Errorf("invalid method: %s", r.Method), codeMethodNotAllowed, http.StatusMethodNotAllowed))
		return
	}

	start := time.Now()
	var creq marketdata.CombinedRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&creq); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithErr(w, r, newHTTPErrorWithMessage(err, "Invalid request body", marketdata.CodeInvalidParams, http.StatusBadRequest))
		return
	}

	resp, err := h.service.Combined(r.Context(), creq, callerFromRequest(r))
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}

	h.respondOK(w, &successResponse{
		Data:           resp,
		ProcessingTime: processingTime(start),
		Warnings:       resp.Warnings,
		Usage:          resp.Usage,
		BudgetWarning:  resp.BudgetWarning,
	}, resp.RateLimited)
}

type successResponse struct {
	Success        bool         `json:"success"`
	Data           interface{}  `json:"data"`
	Source         string       `json:"source,omitempty"`
	LastUpdated    string       `json:"lastUpdated,omitempty"`
	ProcessingTime string       `json:"processingTime,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
	Usage          *usage.Usage `json:"usage,omitempty"`
	BudgetWarning  string       `json:"budgetWarning,omitempty"`
}

func (h *Handler) respondOK(w http.ResponseWriter, body *successResponse, rateLimited bool) {
	body.Success = true
	if len(body.Warnings) > 0 {
		w.Header().Set("X-Data-Warning", strings.Join(body.Warnings, "; "))
	}
	if rateLimited {
		w.Header().Set("X-Rate-Limit-Warning", rateLimitWarning)
	}
	if body.BudgetWarning != "" {
		w.Header().Set("X-Budget-Warning", body.BudgetWarning)
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

func (h *Handler) preflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// callerFromRequest identifies the caller for quota purposes. The first
// X-Forwarded-For hop wins over the connection address.
func callerFromRequest(r *http.Request) usage.Caller {
	c := usage.Caller{
		UserAgent: r.UserAgent(),
	}
	if c.UserAgent == "" {
		c.UserAgent = "unknown"
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		c.IP = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if c.IP == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			c.IP = host
		} else {
			c.IP = r.RemoteAddr
		}
	}
	if c.IP == "" {
		c.IP = "unknown"
	}

	if cookie, err := r.Cookie(sessionCookie); err == nil {
		c.SessionID = cookie.Value
	}
	return c
}

func processingTime(start time.Time) string {
	return fmt.Sprintf("%dms", time.Since(start).Milliseconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}
