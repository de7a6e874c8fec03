// Package didkey resolves did:key decentralized identifiers to raw Ed25519
// public keys and encodes keys back to their did:key form.
//
// A did:key identifier is "did:key:" followed by the multibase-base58btc
// encoding of a multicodec prefix and the raw key bytes. Only the Ed25519
// multicodec (0xed) is recognized. All functions are pure and safe under
// unlimited concurrent calls.
package didkey

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
)

var (
	// ErrMalformedDID is returned for identifiers that are not well-formed
	// did:key strings: wrong scheme, bad multibase alphabet, or a truncated
	// payload.
	ErrMalformedDID = errors.New("malformed did:key identifier")

	// ErrUnsupportedKeyType is returned when the multicodec prefix does not
	// denote an Ed25519 public key.
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

const didKeyPrefix = "did:key:"

// multicodecEd25519Pub is the multicodec code for Ed25519 public keys.
const multicodecEd25519Pub = 0xed

// Resolve decodes a did:key identifier into a raw Ed25519 public key.
// A "#fragment" key reference suffix, if present, is ignored.
func Resolve(did string) (ed25519.PublicKey, error) {
	did, _, _ = strings.Cut(did, "#")

	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, fmt.Errorf("%w: expected did:key scheme in %q", ErrMalformedDID, did)
	}

	encoding, payload, err := multibase.Decode(did[len(didKeyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDID, err)
	}
	if encoding != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: expected base58btc (z) multibase", ErrMalformedDID)
	}

	code, n, err := varint.FromUvarint(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDID, err)
	}
	if code != multicodecEd25519Pub {
		return nil, fmt.Errorf("%w: multicodec 0x%x", ErrUnsupportedKeyType, code)
	}

	key := payload[n:]
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d key bytes, got %d", ErrMalformedDID, ed25519.PublicKeySize, len(key))
	}

	return ed25519.PublicKey(key), nil
}

// Encode returns the did:key identifier for a raw Ed25519 public key.
func Encode(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid Ed25519 public key length: %d", len(pub))
	}

	payload := append(varint.ToUvarint(multicodecEd25519Pub), pub...)
	encoded, err := multibase.Encode(multibase.Base58BTC, payload)
	if err != nil {
		return "", fmt.Errorf("multibase encoding failed: %w", err)
	}
	return didKeyPrefix + encoded, nil
}

// Controller returns the did:key identifier with any "#fragment" key
// reference removed.
func Controller(keyID string) string {
	controller, _, _ := strings.Cut(keyID, "#")
	return controller
}
