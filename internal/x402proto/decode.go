package x402proto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodeArtifact base64-decodes and JSON-parses a payment artifact
// from the X-PAYMENT (V1) or payment (V2) request header, then
// validates the tag fields the gateway actually inspects.
func DecodeArtifact(header string) (*Artifact, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to base64-decode payment header: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse payment payload: %w", err)
	}

	if artifact.X402Version == 0 {
		return nil, fmt.Errorf("x402Version is required")
	}
	if artifact.Scheme != "exact" {
		return nil, fmt.Errorf("unsupported scheme: %s", artifact.Scheme)
	}
	if artifact.Network == "" {
		return nil, fmt.Errorf("network is required")
	}
	if artifact.Payload == nil {
		return nil, fmt.Errorf("payload is required")
	}

	return &artifact, nil
}

// EncodeReceipt re-encodes a settlement receipt to JSON and
// base64-encodes the result, for the X-PAYMENT-RESPONSE (V1) or
// payment-response (V2) header.
func EncodeReceipt(receipt SettlementReceipt) (string, error) {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
