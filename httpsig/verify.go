package httpsig

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/wallet-attached-storage/didkey"
)

// DefaultClockSkew is the tolerance applied to the expires parameter.
const DefaultClockSkew = 60 * time.Second

// timeNow is swapped out in tests.
var timeNow = time.Now

// VerifyRequest verifies the signature-bearing header value against the
// request it covers and returns the signer's decentralized identifier (the
// keyId with any #fragment removed).
//
// The verification scheme is always Ed25519. A client-declared algorithm
// that explicitly names a different scheme is rejected with
// ErrUnsupportedAlgorithm rather than silently ignored.
func VerifyRequest(header, method, path string, hdr http.Header) (string, error) {
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(sig.Algorithm) {
	case "", "hs2019", "ed25519":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, sig.Algorithm)
	}

	if sig.Expires != 0 && timeNow().Add(-DefaultClockSkew).Unix() > sig.Expires {
		return "", fmt.Errorf("%w: expired at %d", ErrSignatureExpired, sig.Expires)
	}

	pub, err := didkey.Resolve(sig.KeyID)
	if err != nil {
		return "", err
	}

	msg, err := BuildSignatureString(method, path, hdr, sig)
	if err != nil {
		return "", err
	}

	if !ed25519.Verify(pub, []byte(msg), sig.Signature) {
		return "", ErrInvalidSignature
	}

	return didkey.Controller(sig.KeyID), nil
}
