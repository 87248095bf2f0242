package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/loadbalancer"
	"github.com/angeloszaimis/scoreproxy/internal/scoring"
	"github.com/angeloszaimis/scoreproxy/internal/strategy"
)

const (
	HeaderBackendServer = "X-Backend-Server"
	HeaderBackendScore  = "X-Backend-Score"

	DefaultMaxBodyBytes int64 = 10 << 20
)

var ErrAllBackendsFailed = errors.New("all backends failed")

// ResponseObserver is told the status relayed for every proxied request.
type ResponseObserver interface {
	ObserveResponse(backend string, statusCode int)
}

type Options struct {
	// Prefix is stripped from the inbound path before forwarding.
	Prefix       string
	MaxBodyBytes int64
	Transport    http.RoundTripper
	Observer     ResponseObserver
}

type ProxyHandler struct {
	logger   *slog.Logger
	balancer *loadbalancer.LoadBalancer
	proxy    *httputil.ReverseProxy
	opts     Options
	scored   bool
}

// attempt carries the per-try target through the shared reverse proxy.
type attempt struct {
	choice    strategy.Choice
	showScore bool
	err       error
}

type attemptKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewProxyHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer, opts Options) *ProxyHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	if logger == nil {
		logger = slog.Default()
	}

	h := &ProxyHandler{
		logger:   logger,
		balancer: lb,
		opts:     opts,
		scored:   lb.LoadBalancerStrategy().Name() == strategy.PolicyScore,
	}
	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.recordError,
		Transport:      opts.Transport,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return h
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	h.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto))

	if _, ok := h.trimPrefix(r.URL.Path); !ok {
		http.NotFound(w, r)
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}

	ranking, err := h.balancer.Reserve(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("client went away during dispatch", slog.String("client", clientIP))
			return
		}
		h.logger.Error("No backend available", slog.String("client", clientIP), slog.Any("error", err))
		http.Error(w, "no backend available", http.StatusServiceUnavailable)
		return
	}

	held := ranking.Winner().Backend
	var lastErr error

	for i, choice := range ranking {
		if i > 0 {
			h.balancer.Switch(held, choice.Backend)
			held = choice.Backend
		}

		at := &attempt{choice: choice, showScore: h.scored}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		h.proxy.ServeHTTP(rec, h.outbound(r, body, at))

		if at.err == nil {
			h.balancer.Release(held, time.Since(start))
			h.observe(held, rec.statusCode)
			h.logger.Info("Forwarded to backend",
				slog.String("client", clientIP),
				slog.String("backend", held.String()),
				slog.String("score", scoring.FormatPoints(choice.Score)),
				slog.Int("status", rec.statusCode),
				slog.Duration("elapsed", time.Since(start)))
			return
		}

		lastErr = at.err
		if r.Context().Err() != nil {
			h.balancer.Release(held, 0)
			h.logger.Debug("client went away during forward", slog.String("client", clientIP))
			return
		}

		h.logger.Warn("Backend request failed",
			slog.String("backend", held.String()),
			slog.Int("attempt", i+1),
			slog.Any("error", at.err))
	}

	h.balancer.Release(held, 0)
	h.observe(held, http.StatusBadGateway)
	h.logger.Error("All backends failed", slog.String("client", clientIP), slog.Any("error", lastErr))
	http.Error(w, fmt.Sprintf("%v: %v", ErrAllBackendsFailed, lastErr), http.StatusBadGateway)
}

// readBody buffers the request body so it can be replayed on fallback.
func (h *ProxyHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
}

func (h *ProxyHandler) outbound(r *http.Request, body []byte, at *attempt) *http.Request {
	out := r.Clone(context.WithValue(r.Context(), attemptKey{}, at))
	if len(body) == 0 {
		out.Body = http.NoBody
		return out
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return out
}

func (h *ProxyHandler) rewrite(pr *httputil.ProxyRequest) {
	at := attemptFrom(pr.In.Context())

	pr.Out.URL.Path, _ = h.trimPrefix(pr.Out.URL.Path)
	pr.Out.URL.RawPath = ""
	pr.SetURL(at.choice.Backend.URL())
	pr.SetXForwarded()
}

func (h *ProxyHandler) modifyResponse(resp *http.Response) error {
	at := attemptFrom(resp.Request.Context())

	resp.Header.Set(HeaderBackendServer, at.choice.Backend.String())
	if at.showScore {
		resp.Header.Set(HeaderBackendScore, scoring.FormatPoints(at.choice.Score))
	}
	return appendEnvelope(resp, envelopeFor(at), h.opts.MaxBodyBytes)
}

// recordError runs instead of writing a 502 so the caller can try the next
// backend. It is only reached before any response byte is written.
func (h *ProxyHandler) recordError(_ http.ResponseWriter, r *http.Request, err error) {
	attemptFrom(r.Context()).err = err
}

// trimPrefix returns path relative to the prefix, rooted at "/". It reports
// false when path is not the prefix itself or below it.
func (h *ProxyHandler) trimPrefix(path string) (string, bool) {
	if h.opts.Prefix == "" {
		return path, true
	}
	rest, ok := strings.CutPrefix(path, h.opts.Prefix)
	if !ok || (rest != "" && rest[0] != '/') {
		return "", false
	}
	if rest == "" {
		rest = "/"
	}
	return rest, true
}

func (h *ProxyHandler) observe(b *backend.Backend, statusCode int) {
	if h.opts.Observer != nil {
		h.opts.Observer.ObserveResponse(b.String(), statusCode)
	}
}

func attemptFrom(ctx context.Context) *attempt {
	return ctx.Value(attemptKey{}).(*attempt)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
