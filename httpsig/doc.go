// Package httpsig implements Cavage-style HTTP message signature
// verification for requests signed with did:key Ed25519 identities.
//
// The verifier parses the signature-bearing header, resolves the signer's
// public key from the keyId decentralized identifier, rebuilds the exact
// byte string the client signed, and verifies the Ed25519 signature over
// it. All functions are pure and safe for concurrent use.
package httpsig
