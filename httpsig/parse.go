package httpsig

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMalformedSignatureHeader is returned when the signature header
	// cannot be parsed or lacks the required keyId or signature parameters.
	ErrMalformedSignatureHeader = errors.New("malformed signature header")

	// ErrMissingSignedHeader is returned when the signed-header list names a
	// header the request does not carry.
	ErrMissingSignedHeader = errors.New("missing signed header")

	// ErrUnsupportedAlgorithm is returned when the client declares a
	// signature algorithm other than Ed25519.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")

	// ErrInvalidSignature is returned when the signature does not verify
	// against the canonical string under the resolved public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSignatureExpired is returned when the signature's expires parameter
	// lies in the past beyond the clock-skew tolerance.
	ErrSignatureExpired = errors.New("signature expired")
)

// signatureScheme is the authorization scheme prefix clients may include.
const signatureScheme = "Signature "

// paramRe matches the comma-separated name="value" signature parameters.
var paramRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParsedSignature holds the components of a signature header. It is
// constructed per request and discarded after verification.
type ParsedSignature struct {
	// KeyID is the signer's decentralized identifier, optionally suffixed
	// with a #fragment key reference.
	KeyID string

	// Algorithm is the client-declared algorithm, if any.
	Algorithm string

	// Headers is the ordered list of signed header names.
	Headers []string

	// Signature is the decoded signature.
	Signature []byte

	// Created and Expires are Unix timestamps; zero when absent.
	Created int64
	Expires int64
}

// ParseSignatureHeader parses a signature-bearing header value. The
// "Signature " scheme prefix is accepted but not required. The headers
// parameter defaults to a single "date" entry when absent.
func ParseSignatureHeader(header string) (*ParsedSignature, error) {
	header = strings.TrimPrefix(header, signatureScheme)

	params := make(map[string]string)
	for _, m := range paramRe.FindAllStringSubmatch(header, -1) {
		params[m[1]] = m[2]
	}

	keyID, ok := params["keyId"]
	if !ok || keyID == "" {
		return nil, fmt.Errorf("%w: missing keyId parameter", ErrMalformedSignatureHeader)
	}
	sigB64, ok := params["signature"]
	if !ok || sigB64 == "" {
		return nil, fmt.Errorf("%w: missing signature parameter", ErrMalformedSignatureHeader)
	}

	sig, err := decodeSignature(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable signature: %v", ErrMalformedSignatureHeader, err)
	}

	headers := []string{"date"}
	if list, ok := params["headers"]; ok && list != "" {
		headers = strings.Fields(strings.ToLower(list))
	}

	parsed := &ParsedSignature{
		KeyID:     keyID,
		Algorithm: params["algorithm"],
		Headers:   headers,
		Signature: sig,
	}

	if v, ok := params["created"]; ok {
		parsed.Created, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad created parameter: %v", ErrMalformedSignatureHeader, err)
		}
	}
	if v, ok := params["expires"]; ok {
		parsed.Expires, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad expires parameter: %v", ErrMalformedSignatureHeader, err)
		}
	}

	return parsed, nil
}

// decodeSignature decodes a base64 signature in either the standard or the
// URL-safe alphabet, padded or not.
func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
