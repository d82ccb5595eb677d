// Package forward sends client requests to the resolved upstream and
// relays the response back byte for byte.
package forward

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmrelay/llm-relay/internal/resolver"
	"github.com/llmrelay/llm-relay/internal/store"
)

// appendTimeout bounds the best-effort log write that runs after the
// client response is already underway.
const appendTimeout = 5 * time.Second

// errorSnippetLimit caps how much of an upstream error body is kept in
// the request log.
const errorSnippetLimit = 512

// userAgent identifies the relay on outbound requests, replacing
// whatever the client sent.
const userAgent = "llm-relay/0.1.0"

// Headers never copied to the upstream request. Host and
// Content-Length are rebuilt by the transport; the x-target-* headers
// steer the relay itself; Authorization is replaced with the resolved
// key. The rest are hop-by-hop.
var strippedRequestHeaders = map[string]struct{}{
	"Host":                {},
	"Content-Length":      {},
	"Authorization":       {},
	"User-Agent":          {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Engine forwards one request per call, with no retries. Every call
// appends exactly one entry to the request log, including calls that
// fail before reaching the upstream.
type Engine struct {
	client   *http.Client
	resolver *resolver.Resolver
	store    store.Store
	logger   *zap.Logger
}

// New builds an engine with its own transport. timeout bounds the
// whole upstream exchange including streaming reads.
func New(res *resolver.Resolver, s store.Store, timeout time.Duration, logger *zap.Logger) *Engine {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Pass bodies through exactly as the upstream sent them.
		DisableCompression: true,
	}
	return &Engine{
		client:   &http.Client{Transport: transport, Timeout: timeout},
		resolver: res,
		store:    s,
		logger:   logger,
	}
}

// ServeHTTP forwards the request to the resolved target.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := e.resolver.Resolve(r.Context(), r.Header)

	entry := store.LogEntry{
		Endpoint:  r.URL.Path,
		TargetAPI: target.BaseURL,
		Timestamp: start,
	}
	logged := false
	record := func(status int, errMsg string) {
		if logged {
			return
		}
		logged = true
		entry.Status = status
		entry.Error = errMsg
		entry.DurationMs = time.Since(start).Milliseconds()
		e.appendEntry(r.Context(), entry)
	}
	// A panic below still produces its log entry before the recovery
	// middleware turns it into a 500 response.
	defer func() {
		if rec := recover(); rec != nil {
			record(http.StatusInternalServerError, "internal error")
			panic(rec)
		}
	}()

	outReq, err := e.buildRequest(r, target)
	if err != nil {
		e.writeForwardError(w, err)
		record(http.StatusInternalServerError, err.Error())
		return
	}

	resp, err := e.client.Do(outReq)
	if err != nil {
		e.logger.Warn("upstream request failed",
			zap.String("target", target.BaseURL),
			zap.String("endpoint", r.URL.Path),
			zap.Error(err))
		e.writeForwardError(w, err)
		record(http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	e.relayResponse(w, resp, &entry)
	record(resp.StatusCode, entry.Error)
}

func (e *Engine) buildRequest(r *http.Request, target resolver.Target) (*http.Request, error) {
	url := target.BaseURL + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		return nil, err
	}
	for name, values := range r.Header {
		if _, strip := strippedRequestHeaders[http.CanonicalHeaderKey(name)]; strip {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), "x-target-") {
			continue
		}
		outReq.Header[name] = values
	}
	outReq.Header.Set("User-Agent", userAgent)
	if target.Key != "" {
		outReq.Header.Set("Authorization", "Bearer "+target.Key)
	}
	return outReq, nil
}

// relayResponse copies status, headers, and body to the client,
// flushing as chunks arrive so streamed completions are not buffered.
func (e *Engine) relayResponse(w http.ResponseWriter, resp *http.Response, entry *store.LogEntry) {
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	setRelayHeaders(header)
	w.WriteHeader(resp.StatusCode)

	if resp.StatusCode >= 400 {
		// Error bodies are small; read them fully so the log can carry
		// a readable snippet, then relay the original bytes untouched.
		// A read error mid-body still relays whatever arrived.
		body, _ := io.ReadAll(resp.Body)
		entry.Error = errorSnippet(resp.Header.Get("Content-Encoding"), body)
		if len(body) > 0 {
			_, _ = w.Write(body)
		}
		return
	}

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// writeForwardError reports a transport-level failure. The relay never
// fabricates an upstream status, so these are always 502.
func (e *Engine) writeForwardError(w http.ResponseWriter, err error) {
	header := w.Header()
	header.Set("Content-Type", "application/json")
	setRelayHeaders(header)
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Failed to forward request",
		"message": err.Error(),
	})
}

// appendEntry records the request outcome without letting a slow or
// broken store affect the client response.
func (e *Engine) appendEntry(ctx context.Context, entry store.LogEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if _, err := e.store.AppendLog(ctx, entry); err != nil {
		e.logger.Warn("failed to append request log", zap.Error(err))
	}
}

// setRelayHeaders adds the headers the relay guarantees on every
// response it writes, success or failure.
func setRelayHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Content-Type-Options", "nosniff")
}
