// Package httpsig signs and verifies HTTP requests carrying activities
// between instances, per spec.md §4.D. It supports both the widely deployed
// draft-cavage-http-signatures-12 profile and RFC 9421's structured-field
// profile, and both RSA-SHA256 (PKCS#1 v1.5) and Ed25519 keys — the
// Ed25519 signing path is grounded directly on the teacher's
// federation.Sign/VerifySignature; RSA-SHA256 support and the
// draft-cavage/RFC 9421 signing-string framing around it are this
// package's generalization of that same verify-by-PEM shape to the actual
// wire protocol activities are signed with.
package httpsig

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Algorithm names a signing/verification algorithm this package supports.
type Algorithm string

const (
	AlgorithmRSASHA256 Algorithm = "rsa-sha256"
	AlgorithmEd25519   Algorithm = "ed25519"
)

// Profile selects the wire framing used to carry the signature.
type Profile string

const (
	// ProfileCavage is draft-cavage-http-signatures-12: a single
	// "Signature" header with keyId/algorithm/headers/signature params.
	ProfileCavage Profile = "cavage-12"
	// ProfileRFC9421 is RFC 9421: "Signature-Input" and "Signature"
	// structured-field headers.
	ProfileRFC9421 Profile = "rfc9421"
)

// PrivateKey is the signing key material for one actor's key, keyed by the
// key URL the signature's keyId parameter will reference.
type PrivateKey struct {
	KeyID     string
	Algorithm Algorithm
	RSA       *rsa.PrivateKey
	Ed25519   ed25519.PrivateKey
}

// Signer returns the crypto.Signer for this key, so the signing code can
// stay algorithm-agnostic past this point.
func (k PrivateKey) Signer() (crypto.Signer, error) {
	switch k.Algorithm {
	case AlgorithmRSASHA256:
		if k.RSA == nil {
			return nil, fmt.Errorf("httpsig: rsa-sha256 key %q has no RSA material", k.KeyID)
		}
		return k.RSA, nil
	case AlgorithmEd25519:
		if k.Ed25519 == nil {
			return nil, fmt.Errorf("httpsig: ed25519 key %q has no Ed25519 material", k.KeyID)
		}
		return k.Ed25519, nil
	default:
		return nil, fmt.Errorf("httpsig: unsupported algorithm %q", k.Algorithm)
	}
}

// KeySet is an actor's signing keys in declaration order. Outbound
// delivery selects from it rather than assuming a single key, per
// spec.md §9's key-selection design note.
type KeySet []PrivateKey

// Select returns the first key whose algorithm appears in accepted, in
// accepted's preference order; if accepted is empty or none of the
// set's keys match, it falls back to the first key by declaration
// order. Reports false if the set is empty.
func (s KeySet) Select(accepted []Algorithm) (PrivateKey, bool) {
	if len(s) == 0 {
		return PrivateKey{}, false
	}
	for _, alg := range accepted {
		for _, k := range s {
			if k.Algorithm == alg {
				return k, true
			}
		}
	}
	return s[0], true
}

// KeyByID returns the key in the set with the given KeyID.
func (s KeySet) KeyByID(keyID string) (PrivateKey, bool) {
	for _, k := range s {
		if k.KeyID == keyID {
			return k, true
		}
	}
	return PrivateKey{}, false
}

// KeyIDs returns the set's key URLs in declaration order.
func (s KeySet) KeyIDs() []string {
	ids := make([]string, len(s))
	for i, k := range s {
		ids[i] = k.KeyID
	}
	return ids
}

// ParseRSAPrivateKeyPEM decodes a PKCS#1 or PKCS#8 RSA private key PEM
// block into a PrivateKey for keyID.
func ParseRSAPrivateKeyPEM(keyID string, data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return PrivateKey{}, fmt.Errorf("httpsig: failed to decode PEM block for key %q", keyID)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return PrivateKey{KeyID: keyID, Algorithm: AlgorithmRSASHA256, RSA: key}, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("httpsig: parsing RSA private key %q: %w", keyID, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return PrivateKey{}, fmt.Errorf("httpsig: key %q is not an RSA key", keyID)
	}
	return PrivateKey{KeyID: keyID, Algorithm: AlgorithmRSASHA256, RSA: rsaKey}, nil
}

// ParseEd25519PrivateKeyPEM decodes a PKCS#8 Ed25519 private key PEM block.
func ParseEd25519PrivateKeyPEM(keyID string, data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return PrivateKey{}, fmt.Errorf("httpsig: failed to decode PEM block for key %q", keyID)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("httpsig: parsing Ed25519 private key %q: %w", keyID, err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return PrivateKey{}, fmt.Errorf("httpsig: key %q is not an Ed25519 key", keyID)
	}
	return PrivateKey{KeyID: keyID, Algorithm: AlgorithmEd25519, Ed25519: edKey}, nil
}

// ParsePublicKeyPEM decodes an X.509 SubjectPublicKeyInfo PEM block into
// either an *rsa.PublicKey or an ed25519.PublicKey, inferring the
// algorithm from the decoded type the same way the teacher's
// VerifySignature does from its PEM block.
func ParsePublicKeyPEM(data string) (Algorithm, crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return "", nil, fmt.Errorf("httpsig: failed to decode PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", nil, fmt.Errorf("httpsig: parsing public key: %w", err)
	}
	switch k := key.(type) {
	case *rsa.PublicKey:
		return AlgorithmRSASHA256, k, nil
	case ed25519.PublicKey:
		return AlgorithmEd25519, k, nil
	default:
		return "", nil, fmt.Errorf("httpsig: unsupported public key type %T", key)
	}
}
