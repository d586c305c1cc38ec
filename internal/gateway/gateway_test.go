package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oysterprotocol/x402-gateway/internal/config"
	"github.com/oysterprotocol/x402-gateway/internal/network"
	"github.com/oysterprotocol/x402-gateway/internal/signingkey"
	"github.com/oysterprotocol/x402-gateway/internal/x402proto"
)

func testIdentity(t *testing.T) *signingkey.Identity {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv("SIGNING_PRIVATE_KEY_HEX", hex.EncodeToString(crypto.FromECDSA(priv)))
	id, err := signingkey.Load()
	require.NoError(t, err)
	return id
}

func testRegistry(t *testing.T) *network.Registry {
	t.Helper()
	reg, err := network.New([]config.NetworkConfig{
		{Type: "evm", Network: "base-sepolia", PaymentAddress: "0x1111111111111111111111111111111111111111"},
	})
	require.NoError(t, err)
	return reg
}

func newTestGatewayEnv(t *testing.T, facilitator *httptest.Server, backend *httptest.Server) *Gateway {
	t.Helper()
	cfg := &config.Config{
		FacilitatorURL: facilitator.URL,
		TargetAPIURL:   backend.URL,
		Networks:       []config.NetworkConfig{{Type: "evm", Network: "base-sepolia", PaymentAddress: "0x1111111111111111111111111111111111111111"}},
		Routes: config.RoutesConfig{
			Free:      []string{"/free"},
			Protected: []config.ProtectedRoute{{Path: "/paid", USDCAmount: 1000}},
		},
	}
	return New(cfg, testRegistry(t), testIdentity(t), zap.NewNop())
}

func encodeArtifact(t *testing.T, network string) string {
	t.Helper()
	raw, err := json.Marshal(x402proto.Artifact{
		X402Version: 1,
		Scheme:      "exact",
		Network:     network,
		Payload:     map[string]interface{}{"signature": "0xdead"},
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestHealthzBypassesBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called for /healthz")
	}))
	defer backend.Close()
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Signature"))
}

func TestProtectedV1NoPaymentReturnsChallenge(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called without a payment artifact")
	}))
	defer backend.Close()
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body x402proto.ChallengeBodyV1
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "base-sepolia", body.Accepts[0].Network)
	assert.Equal(t, "1000", body.Accepts[0].MaxAmountRequired)
}

func TestProtectedV2NoPaymentReturnsHeaderChallenge(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called without a payment artifact")
	}))
	defer backend.Close()
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/paid-v2", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Empty(t, rec.Body.String())

	var challenge x402proto.ChallengeHeaderV2
	require.NoError(t, json.Unmarshal([]byte(rec.Header().Get("payment-required")), &challenge))
	assert.Equal(t, 2, challenge.X402Version)
	require.Len(t, challenge.Accepts, 1)
	assert.Equal(t, "base-sepolia", challenge.Accepts[0].Network)
}

func TestProtectedV1ValidPaymentSettlesAndProxies(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Payment"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(x402proto.FacilitatorVerifyResponse{IsValid: true})
		case "/settle":
			json.NewEncoder(w).Encode(x402proto.SettlementReceipt{"success": true, "transaction": "0xabc"})
		}
	}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-Payment", encodeArtifact(t, "base-sepolia"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
	assert.NotEmpty(t, rec.Header().Get("X-Signature"))
}

func TestProtectedV1InvalidPaymentReturnsChallenge(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called after failed verification")
	}))
	defer backend.Close()

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(x402proto.FacilitatorVerifyResponse{IsValid: false, InvalidReason: "insufficient funds"})
	}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-Payment", encodeArtifact(t, "base-sepolia"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body x402proto.ChallengeBodyV1
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient funds", body.Error)
}

func TestProtectedBackendErrorSkipsSettlement(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer backend.Close()

	settleCalled := false
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(x402proto.FacilitatorVerifyResponse{IsValid: true})
		case "/settle":
			settleCalled = true
			json.NewEncoder(w).Encode(x402proto.SettlementReceipt{"success": true})
		}
	}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-Payment", encodeArtifact(t, "base-sepolia"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, settleCalled)
	assert.Empty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
}

func TestSettlementFailureStillReturnsBackendResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(x402proto.FacilitatorVerifyResponse{IsValid: true})
		case "/settle":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-Payment", encodeArtifact(t, "base-sepolia"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())

	raw, err := base64.StdEncoding.DecodeString(rec.Header().Get("X-PAYMENT-RESPONSE"))
	require.NoError(t, err)
	var receipt x402proto.SettlementReceipt
	require.NoError(t, json.Unmarshal(raw, &receipt))
	assert.False(t, receipt.Success())
}

func TestUnknownRouteReturns404(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer facilitator.Close()

	g := newTestGatewayEnv(t, facilitator, backend)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
