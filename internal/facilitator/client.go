// Package facilitator forwards verify and settle RPCs to the external
// x402 facilitator service. The client is chain-family agnostic: the
// facilitator, not the gateway, interprets the chain-specific payload.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oysterprotocol/x402-gateway/internal/x402proto"
)

var tracer = otel.Tracer("x402-gateway/facilitator")

// DefaultTimeout is the per-RPC timeout applied to facilitator calls.
const DefaultTimeout = 30 * time.Second

// Client talks to a single facilitator base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a facilitator client targeting baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Verify calls POST <facilitator_url>/verify.
func (c *Client) Verify(ctx context.Context, req *x402proto.FacilitatorVerifyRequest) (*x402proto.FacilitatorVerifyResponse, error) {
	ctx, span := tracer.Start(ctx, "facilitator.verify")
	defer span.End()
	span.SetAttributes(attribute.String("x402.network", req.PaymentRequirements.Network))

	var resp x402proto.FacilitatorVerifyResponse
	if err := c.post(ctx, "/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle calls POST <facilitator_url>/settle.
func (c *Client) Settle(ctx context.Context, req *x402proto.FacilitatorSettleRequest) (x402proto.SettlementReceipt, error) {
	ctx, span := tracer.Start(ctx, "facilitator.settle")
	defer span.End()
	span.SetAttributes(attribute.String("x402.network", req.PaymentRequirements.Network))

	var resp x402proto.SettlementReceipt
	if err := c.post(ctx, "/settle", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal facilitator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build facilitator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}

	return nil
}
