// Package transcript builds the canonical request/response transcript
// and produces the detached secp256k1 signature that binds a response
// to the request that produced it and to the gateway's signing key.
package transcript

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oysterprotocol/x402-gateway/internal/signingkey"
)

const signaturePrefix = "oyster-signature-v2\x00"

// Build constructs the canonical transcript bytes:
//
//	prefix || u32be(len(method)) || method
//	       || u32be(len(pathq))  || pathq
//	       || u64be(len(reqBody)) || reqBody
//	       || u64be(len(resBody)) || resBody
//
// method and pathAndQuery are exactly as observed on the wire by the
// client (including any "-v2" suffix); reqBody/resBody are the exact
// bytes sent/emitted, with no transformation.
func Build(method, pathAndQuery string, reqBody, resBody []byte) []byte {
	m := []byte(method)
	p := []byte(pathAndQuery)

	buf := make([]byte, 0, len(signaturePrefix)+4+len(m)+4+len(p)+8+len(reqBody)+8+len(resBody))
	buf = append(buf, signaturePrefix...)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(m)))
	buf = append(buf, u32[:]...)
	buf = append(buf, m...)

	binary.BigEndian.PutUint32(u32[:], uint32(len(p)))
	buf = append(buf, u32[:]...)
	buf = append(buf, p...)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(len(reqBody)))
	buf = append(buf, u64[:]...)
	buf = append(buf, reqBody...)

	binary.BigEndian.PutUint64(u64[:], uint64(len(resBody)))
	buf = append(buf, u64[:]...)
	buf = append(buf, resBody...)

	return buf
}

// Sign hashes the transcript with Keccak-256 and signs it with
// deterministic (RFC 6979) recoverable ECDSA, returning the hex
// encoding of r || s || (recovery_id + 27) — the Ethereum signature
// convention, required here so downstream recover-style verification
// works unchanged.
func Sign(id *signingkey.Identity, transcriptBytes []byte) (string, error) {
	digest := crypto.Keccak256(transcriptBytes)

	sig, err := crypto.Sign(digest, id.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign transcript: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("unexpected signature length %d", len(sig))
	}

	// crypto.Sign already appends the recovery id (0/1/2/3) as the
	// last byte; shift it to the +27 Ethereum convention.
	sig[64] += 27

	return hex.EncodeToString(sig), nil
}

// SignResponse is a convenience wrapper combining Build and Sign for
// the common case of signing exactly one request/response pair. It
// must be invoked for every response the gateway emits — success,
// 402, 404, or 500 alike.
func SignResponse(id *signingkey.Identity, method, pathAndQuery string, reqBody, resBody []byte) (string, error) {
	return Sign(id, Build(method, pathAndQuery, reqBody, resBody))
}
