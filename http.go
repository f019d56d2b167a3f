package vigil

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// maxBodySize is the maximum allowed request body size (10MB)
	maxBodySize = 10 * 1024 * 1024

	// maxRateLimitedClients bounds the per-client limiter cache.
	maxRateLimitedClients = 10000
)

// ClassifyRequest is the input of one classification: a gram per
// descriptor, in descriptor order.
type ClassifyRequest struct {
	Grams []FeatureGram `json:"grams"`
}

// ClassifyResponse is the result of one classification.
type ClassifyResponse struct {
	Classifier      string          `json:"classifier"`
	Decision        string          `json:"decision"`
	Score           float64         `json:"score"`
	State           string          `json:"state"`
	Classifications Classifications `json:"classifications"`
}

// NewClassifyResponse summarizes cs as returned by c.
func NewClassifyResponse(c *Classifier, cs Classifications) ClassifyResponse {
	return ClassifyResponse{
		Classifier:      c.Name(),
		Decision:        cs.Decision().Value,
		Score:           cs.AnomalyScore(),
		State:           c.State().String(),
		Classifications: cs,
	}
}

// ModelResponse describes the served classifier.
type ModelResponse struct {
	Name         string                  `json:"name"`
	Label        string                  `json:"label"`
	Descriptors  []FeatureGramDescriptor `json:"descriptors"`
	MinGramVotes int                     `json:"min_gram_votes"`
	State        string                  `json:"state"`
	NextTime     int64                   `json:"next_time"`
}

// HTTPOptions configures NewHTTPHandler.
type HTTPOptions struct {
	// Classifier serves /classify and /model. Required.
	Classifier *Classifier

	// Hub serves /stream when set.
	Hub *ScoreHub

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	Server ServerConfig
	Logger *zap.Logger
}

// NewHTTPHandler returns the classification API:
//
//	POST /classify  classify a ClassifyRequest
//	GET  /model     describe the classifier
//	GET  /stream    WebSocket score stream
//	GET  /metrics   Prometheus metrics
//	GET  /healthz   liveness, never authenticated
func NewHTTPHandler(opts HTTPOptions) (http.Handler, error) {
	if opts.Classifier == nil {
		return nil, configError("http handler needs a classifier")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var rl *rateLimiter
	if opts.Server.RateLimit > 0 {
		var err error
		rl, err = newRateLimiter(opts.Server.RateLimit, opts.Server.RateLimitBurst)
		if err != nil {
			return nil, err
		}
	}
	auth := newAuthenticator(opts.Server.APIKeys)

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		h = authMiddleware(auth, h)
		if rl != nil {
			h = rateLimitMiddleware(rl, h)
		}
		return h
	}

	h := &classifyHandler{c: opts.Classifier, logger: opts.Logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /classify", wrap(h.classify))
	mux.HandleFunc("GET /model", wrap(h.model))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, opts.Logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Hub != nil {
		mux.HandleFunc("GET /stream", wrap(opts.Hub.WebSocketHandler()))
	}
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux, nil
}

type classifyHandler struct {
	c      *Classifier
	logger *zap.Logger
}

func (h *classifyHandler) classify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			jsonError(w, h.logger, http.StatusBadRequest, "bad_data", err.Error())
			return
		}
		defer func() { _ = gz.Close() }()
		reader = io.LimitReader(gz, maxBodySize)
	}

	var req ClassifyRequest
	if err := json.NewDecoder(reader).Decode(&req); err != nil {
		jsonError(w, h.logger, http.StatusBadRequest, "bad_data", "invalid request body: "+err.Error())
		return
	}
	cs, err := h.c.Classify(req.Grams)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrNoTrainingData) {
			status = http.StatusBadRequest
		}
		jsonError(w, h.logger, status, "classification", err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, NewClassifyResponse(h.c, cs))
}

func (h *classifyHandler) model(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, ModelResponse{
		Name:         h.c.Name(),
		Label:        h.c.Label(),
		Descriptors:  h.c.Descriptors(),
		MinGramVotes: h.c.MinGramVotes(),
		State:        h.c.State().String(),
		NextTime:     h.c.NextTime(),
	})
}

// rateLimiter keeps a token bucket per client IP.
type rateLimiter struct {
	limit    rate.Limit
	burst    int
	visitors *lru.Cache[string, *rate.Limiter]
}

func newRateLimiter(rps float64, burst int) (*rateLimiter, error) {
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	cache, err := lru.New[string, *rate.Limiter](maxRateLimitedClients)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{limit: rate.Limit(rps), burst: burst, visitors: cache}, nil
}

func (rl *rateLimiter) allow(ip string) bool {
	lim, ok := rl.visitors.Get(ip)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		if prev, found, _ := rl.visitors.PeekOrAdd(ip, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func rateLimitMiddleware(rl *rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// authenticator handles API key authentication
type authenticator struct {
	apiKeys map[string]bool
}

func newAuthenticator(keys []string) *authenticator {
	a := &authenticator{apiKeys: make(map[string]bool, len(keys))}
	for _, k := range keys {
		if k != "" {
			a.apiKeys[k] = true
		}
	}
	return a
}

func (a *authenticator) enabled() bool { return len(a.apiKeys) > 0 }

// extractAPIKey reads a bearer token, the X-API-Key header, or the api_key
// query parameter used by WebSocket clients.
func extractAPIKey(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func authMiddleware(auth *authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.enabled() {
			next(w, r)
			return
		}
		key := extractAPIKey(r)
		if key == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !auth.apiKeys[key] {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// HTTPServer serves a handler in the background.
type HTTPServer struct {
	srv *http.Server
	ln  net.Listener
}

// StartHTTPServer listens on addr and serves h until Close.
func StartHTTPServer(addr string, h http.Handler, logger *zap.Logger) (*HTTPServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()
	logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return &HTTPServer{srv: srv, ln: ln}, nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() string { return s.ln.Addr().String() }

// Close shuts the server down, waiting up to five seconds for requests.
func (s *HTTPServer) Close() error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
