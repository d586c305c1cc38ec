// Package proxy forwards an approved request to the backend API and
// captures the full response so it can be hashed for the transcript
// signature and re-emitted to the client.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("x402-gateway/proxy")

// MaxResponseBytes caps the buffered backend response body. Forward
// returns an error for an oversize response; that error is not
// distinguishable from other backend failures, so the gateway answers
// it with the same 504 it uses for an unreachable backend.
const MaxResponseBytes = 10 * 1024 * 1024

// DefaultTimeout is the per-request timeout applied to backend calls.
const DefaultTimeout = 30 * time.Second

// hopByHop lists headers stripped in both directions, plus the x402
// payment headers which must never reach the backend.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"te":                  true,
	"trailer":             true,
	"x-payment":           true,
	"payment":             true,
}

func isHopByHop(header string) bool {
	lower := strings.ToLower(header)
	if hopByHop[lower] {
		return true
	}
	return strings.HasPrefix(lower, "proxy-")
}

// Response is the captured backend response: status, headers (minus
// hop-by-hop and any backend-set X-Signature), and the full body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Proxy forwards requests to a single backend base URL.
type Proxy struct {
	targetBaseURL string
	httpClient    *http.Client
}

// New creates a Proxy targeting targetBaseURL.
func New(targetBaseURL string) *Proxy {
	return &Proxy{
		targetBaseURL: targetBaseURL,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Forward replays method/effectivePath/query/body against the
// backend, preserving headers minus the hop-by-hop set, and returns
// the full buffered response.
func (p *Proxy) Forward(ctx context.Context, method, effectivePathAndQuery string, header http.Header, body []byte) (*Response, error) {
	ctx, span := tracer.Start(ctx, "proxy.forward")
	defer span.End()

	targetURL := p.targetBaseURL + effectivePathAndQuery

	req, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}

	for name, values := range header {
		if isHopByHop(name) || strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, MaxResponseBytes+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	if len(respBody) > MaxResponseBytes {
		return nil, fmt.Errorf("backend response exceeds %d byte cap", MaxResponseBytes)
	}

	outHeader := make(http.Header, len(resp.Header))
	for name, values := range resp.Header {
		if isHopByHop(name) || strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "X-Signature") {
			continue
		}
		outHeader[name] = values
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     outHeader,
		Body:       respBody,
	}, nil
}
