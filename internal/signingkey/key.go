// Package signingkey acquires the gateway's process-global secp256k1
// signing identity at startup, from either an environment-supplied
// hex key or a KMS derive endpoint, and exposes it read-only.
package signingkey

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

const defaultDeriveURL = "http://127.0.0.1:1100/derive/secp256k1?path=signing-server"

// Identity is the gateway's process-wide signing key. It is
// initialized once at startup and never rotated; the private key is
// never logged or returned in any response.
type Identity struct {
	private       *ecdsa.PrivateKey
	compressedPub []byte
}

// CompressedPublicKey returns the 33-byte compressed secp256k1 public
// key corresponding to the signing identity. Safe to log or expose.
func (id *Identity) CompressedPublicKey() []byte {
	return id.compressedPub
}

// PrivateKey exposes the private key for signing. Callers must never
// log, serialize, or otherwise surface the returned value.
func (id *Identity) PrivateKey() *ecdsa.PrivateKey {
	return id.private
}

// Load acquires the signing identity. SIGNING_PRIVATE_KEY_HEX, when
// set, takes precedence over the KMS derive endpoint.
func Load() (*Identity, error) {
	if hexKey := os.Getenv("SIGNING_PRIVATE_KEY_HEX"); hexKey != "" {
		return fromHex(hexKey)
	}
	return fromKMS(deriveURL())
}

func deriveURL() string {
	if u := os.Getenv("SIGNING_KEY_DERIVE_URL"); u != "" {
		return u
	}
	return defaultDeriveURL
}

func fromHex(hexKey string) (*Identity, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNING_PRIVATE_KEY_HEX: %w", err)
	}
	return fromPrivateKey(priv)
}

func fromKMS(url string) (*Identity, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to reach KMS derive endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("KMS derive endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read KMS derive response: %w", err)
	}

	keyBytes, err := decodeKeyBytes(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode KMS derive response: %w", err)
	}

	priv, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("KMS derive response is not a valid secp256k1 scalar: %w", err)
	}

	return fromPrivateKey(priv)
}

// decodeKeyBytes accepts either raw 32 bytes or a 64-character hex
// string, per the KMS derive endpoint's documented response shapes.
func decodeKeyBytes(body []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) == 64 {
		if decoded, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x")); err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	if len(body) == 32 {
		return body, nil
	}
	return nil, fmt.Errorf("expected 32 raw bytes or 64 hex characters, got %d bytes", len(body))
}

func fromPrivateKey(priv *ecdsa.PrivateKey) (*Identity, error) {
	pub := crypto.CompressPubkey(&priv.PublicKey)
	return &Identity{private: priv, compressedPub: pub}, nil
}
