package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/oysterprotocol/x402-gateway/internal/facilitator"
	"github.com/oysterprotocol/x402-gateway/internal/transcript"
	"github.com/oysterprotocol/x402-gateway/internal/x402proto"
)

// serveFree proxies a free-route request straight to the backend, no
// payment machinery involved, and signs whatever the backend returns.
func (g *Gateway) serveFree(w http.ResponseWriter, r *http.Request, reqBody []byte, logger *zap.Logger) {
	resp, err := g.proxy.Forward(r.Context(), r.Method, pathAndQuery(r), r.Header, reqBody)
	if err != nil {
		logger.Warn("backend unreachable on free route", zap.Error(err))
		g.writeSigned(w, r, reqBody, http.StatusGatewayTimeout, http.Header{}, []byte(`{"error":"backend unavailable"}`))
		return
	}

	g.writeSigned(w, r, reqBody, resp.StatusCode, resp.Header, resp.Body)
}

// serveProtected runs the full x402 state machine: challenge if no
// artifact is presented, decode and verify one if it is, proxy to the
// backend on success, and settle on a 2xx backend response.
func (g *Gateway) serveProtected(w http.ResponseWriter, r *http.Request, reqBody []byte, class classification, logger *zap.Logger) {
	resourceURL := resourceURL(r, class.effectivePath)
	requirements := x402proto.BuildRequirements(g.registry, class.usdcAmount, resourceURL, "")

	paymentHeaderName := "X-Payment"
	if class.version == versionV2 {
		paymentHeaderName = "payment"
	}
	rawArtifact := r.Header.Get(paymentHeaderName)

	if rawArtifact == "" {
		g.writeChallenge(w, r, reqBody, class.version, requirements, "")
		return
	}

	artifact, err := x402proto.DecodeArtifact(rawArtifact)
	if err != nil {
		logger.Info("rejected malformed payment artifact", zap.Error(err))
		g.writeChallenge(w, r, reqBody, class.version, requirements, "Invalid payment payload")
		return
	}

	requirement, ok := x402proto.FindRequirement(requirements, artifact.Network)
	if !ok {
		logger.Info("rejected payment for unsupported network", zap.String("network", artifact.Network))
		g.writeChallenge(w, r, reqBody, class.version, requirements, "Unsupported network")
		return
	}

	verifyResp, err := g.facilitator.Verify(r.Context(), &x402proto.FacilitatorVerifyRequest{
		X402Version:         artifact.X402Version,
		PaymentPayload:      artifact,
		PaymentRequirements: *requirement,
	})
	if err != nil {
		logger.Warn("facilitator verify failed", zap.Error(err))
		g.writeSigned(w, r, reqBody, http.StatusBadGateway, http.Header{}, []byte(`{"error":"facilitator unavailable"}`))
		return
	}
	if !verifyResp.IsValid {
		logger.Info("payment verification rejected", zap.String("reason", verifyResp.InvalidReason))
		g.writeChallenge(w, r, reqBody, class.version, requirements, verifyResp.InvalidReason)
		return
	}

	backendResp, err := g.proxy.Forward(r.Context(), r.Method, class.effectivePath+queryString(r), stripPaymentHeaders(r.Header, paymentHeaderName), reqBody)
	if err != nil {
		logger.Warn("backend unreachable after verified payment", zap.Error(err))
		g.writeSigned(w, r, reqBody, http.StatusGatewayTimeout, http.Header{}, []byte(`{"error":"backend unavailable"}`))
		return
	}

	header := backendResp.Header
	if backendResp.StatusCode >= 200 && backendResp.StatusCode < 300 {
		// Settle on a detached context with its own timeout so a client
		// disconnect does not abandon settlement of delivered work.
		settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(r.Context()), facilitator.DefaultTimeout)
		receipt, err := g.facilitator.Settle(settleCtx, &x402proto.FacilitatorSettleRequest{
			X402Version:         artifact.X402Version,
			PaymentPayload:      artifact,
			PaymentRequirements: *requirement,
		})
		cancelSettle()
		if err != nil {
			logger.Error("settlement failed after successful delivery", zap.Error(err))
			receipt = x402proto.SettlementReceipt{"success": false, "errorReason": err.Error()}
		}

		encoded, err := x402proto.EncodeReceipt(receipt)
		if err != nil {
			logger.Error("failed to encode settlement receipt", zap.Error(err))
		} else {
			header = header.Clone()
			if class.version == versionV2 {
				header.Set("payment-response", encoded)
			} else {
				header.Set("X-PAYMENT-RESPONSE", encoded)
			}
		}
	}

	g.writeSigned(w, r, reqBody, backendResp.StatusCode, header, backendResp.Body)
}

// writeChallenge emits the 402 for version: a JSON body for V1,
// or an empty body plus a "payment-required" header for V2.
func (g *Gateway) writeChallenge(w http.ResponseWriter, r *http.Request, reqBody []byte, version protocolVersion, requirements []x402proto.PaymentRequirement, errMsg string) {
	if version == versionV2 {
		challenge := x402proto.ChallengeHeaderV2{X402Version: x402VersionV2, Accepts: requirements, Error: errMsg}
		raw, err := json.Marshal(challenge)
		header := http.Header{}
		if err == nil {
			header.Set("payment-required", string(raw))
		}
		g.writeSigned(w, r, reqBody, http.StatusPaymentRequired, header, nil)
		return
	}

	body, err := json.Marshal(x402proto.ChallengeBodyV1{X402Version: x402VersionV1, Error: errMsg, Accepts: requirements})
	if err != nil {
		g.writeSigned(w, r, reqBody, http.StatusInternalServerError, http.Header{}, []byte(`{"error":"internal"}`))
		return
	}
	g.writeSigned(w, r, reqBody, http.StatusPaymentRequired, http.Header{"Content-Type": {"application/json"}}, body)
}

// writeSigned signs the exact bytes about to be written using the
// original request path and query — including any "-v2" suffix — and
// emits the headers with the X-Signature header among them, then the
// status and the body.
func (g *Gateway) writeSigned(w http.ResponseWriter, r *http.Request, reqBody []byte, status int, header http.Header, body []byte) {
	sig, err := transcript.SignResponse(g.identity, r.Method, pathAndQuery(r), reqBody, body)
	for name, values := range header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if err == nil {
		w.Header().Set("X-Signature", sig)
	} else {
		g.logger.Error("failed to sign response", zap.Error(err))
	}
	w.WriteHeader(status)
	if body != nil {
		w.Write(body)
	}
}

func pathAndQuery(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func queryString(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func resourceURL(r *http.Request, effectivePath string) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + effectivePath
}

func stripPaymentHeaders(h http.Header, name string) http.Header {
	out := h.Clone()
	out.Del(name)
	out.Del("X-Payment")
	out.Del("payment")
	return out
}
