// Package gateway implements the per-request protocol state machine:
// route classification, V1/V2 challenge synthesis, verify/proxy/settle
// orchestration, and response signing.
package gateway

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oysterprotocol/x402-gateway/internal/config"
	"github.com/oysterprotocol/x402-gateway/internal/facilitator"
	"github.com/oysterprotocol/x402-gateway/internal/network"
	"github.com/oysterprotocol/x402-gateway/internal/proxy"
	"github.com/oysterprotocol/x402-gateway/internal/signingkey"
)

// Gateway holds everything a request needs: immutable configuration,
// the network registry, the signing identity, and the facilitator and
// backend clients. It is safe for concurrent use — nothing here is
// mutated after New returns.
type Gateway struct {
	cfg      *config.Config
	registry *network.Registry
	identity *signingkey.Identity

	facilitator *facilitator.Client
	proxy       *proxy.Proxy

	logger *zap.Logger

	freeSet         map[string]bool
	protectedByPath map[string]config.ProtectedRoute
}

// New builds a Gateway from its already-validated configuration and
// dependencies.
func New(cfg *config.Config, registry *network.Registry, identity *signingkey.Identity, logger *zap.Logger) *Gateway {
	freeSet := make(map[string]bool, len(cfg.Routes.Free))
	for _, p := range cfg.Routes.Free {
		freeSet[p] = true
	}

	protectedByPath := make(map[string]config.ProtectedRoute, len(cfg.Routes.Protected))
	for _, r := range cfg.Routes.Protected {
		protectedByPath[r.Path] = r
	}

	return &Gateway{
		cfg:             cfg,
		registry:        registry,
		identity:        identity,
		facilitator:     facilitator.New(cfg.FacilitatorURL),
		proxy:           proxy.New(cfg.TargetAPIURL),
		logger:          logger,
		freeSet:         freeSet,
		protectedByPath: protectedByPath,
	}
}

// Handler returns the gateway's HTTP handler: every method on every
// path is routed through handleRequest so that route classification
// and signing apply uniformly. The one exception is a CORS preflight
// (OPTIONS) request, which corsMiddleware answers with a 204 that
// carries no X-Signature.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Handle("/*", http.HandlerFunc(g.handleRequest))
	return r
}

func (g *Gateway) handleRequest(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := g.logger.With(zap.String("request_id", requestID), zap.String("path", r.URL.Path))

	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read request body", zap.Error(err))
		g.writeSigned(w, r, nil, http.StatusBadRequest, http.Header{}, []byte(`{"error":"internal"}`))
		return
	}

	if r.URL.Path == "/healthz" {
		g.writeSigned(w, r, reqBody, http.StatusOK, http.Header{"Content-Type": {"text/plain"}}, []byte("ok"))
		return
	}

	class := g.classify(r.URL.Path)

	switch class.class {
	case classFree:
		g.serveFree(w, r, reqBody, logger)
	case classProtected:
		g.serveProtected(w, r, reqBody, class, logger)
	default:
		g.writeSigned(w, r, reqBody, http.StatusNotFound, http.Header{}, nil)
	}
}
