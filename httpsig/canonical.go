package httpsig

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Pseudo-header names recognized in the signed-header list. Their values
// come from the request line or from the signature parameters rather than
// from an actual header.
const (
	requestTargetHeader = "(request-target)"
	createdHeader       = "(created)"
	expiresHeader       = "(expires)"
	keyIDHeader         = "(key-id)"
)

// BuildSignatureString rebuilds the exact byte string the client signed.
//
// For each name in sig.Headers, in order, one "name: value" line is
// emitted: the (request-target) pseudo-header yields the lowercased method
// and the path, (created), (expires) and (key-id) yield the corresponding
// signature parameters, and any other name yields the value of that request
// header. Lines are joined with a single newline with no trailing newline.
// Identical inputs always yield byte-identical output; this string is the
// exact payload the signature covers.
func BuildSignatureString(method, path string, hdr http.Header, sig *ParsedSignature) (string, error) {
	lines := make([]string, 0, len(sig.Headers))

	for _, name := range sig.Headers {
		name = strings.ToLower(name)
		switch name {
		case requestTargetHeader:
			lines = append(lines, fmt.Sprintf("%s: %s %s", requestTargetHeader, strings.ToLower(method), path))
		case createdHeader:
			if sig.Created == 0 {
				return "", fmt.Errorf("%w: %s", ErrMissingSignedHeader, createdHeader)
			}
			lines = append(lines, createdHeader+": "+strconv.FormatInt(sig.Created, 10))
		case expiresHeader:
			if sig.Expires == 0 {
				return "", fmt.Errorf("%w: %s", ErrMissingSignedHeader, expiresHeader)
			}
			lines = append(lines, expiresHeader+": "+strconv.FormatInt(sig.Expires, 10))
		case keyIDHeader:
			lines = append(lines, keyIDHeader+": "+sig.KeyID)
		default:
			if len(hdr.Values(name)) == 0 {
				return "", fmt.Errorf("%w: %s", ErrMissingSignedHeader, name)
			}
			lines = append(lines, name+": "+hdr.Get(name))
		}
	}

	return strings.Join(lines, "\n"), nil
}
