package httpsig

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PublicKeyResolver resolves a signature's keyId to the algorithm and
// public key material needed to verify it. Implementations typically
// dereference the actor document the key belongs to (spec.md §4.D), caching
// through internal/docloader.
type PublicKeyResolver interface {
	ResolvePublicKey(ctx context.Context, keyID string) (Algorithm, crypto.PublicKey, error)
}

// KeyOwnerResolver resolves the actor URL that claims ownership of a
// signing key, following the key's owner/controller fields or its
// hosting actor's assertionMethod set — the transitive key -> owner ->
// actor binding spec.md §4.D requires the inbound pipeline to check
// before trusting an activity's claimed actor.
type KeyOwnerResolver interface {
	ResolveKeyOwner(ctx context.Context, keyID string) (string, error)
}

// Invalidator evicts a resolver's cached document for a key, so the
// next resolution refetches it instead of reusing stale key material —
// used when verification against the cached key fails, in case the key
// was rotated (spec.md §3 Actor: "refreshed on signature-verification
// failure").
type Invalidator interface {
	InvalidateKey(ctx context.Context, keyID string) error
}

// ExtractKeyID reads the keyId a request's signature claims, without
// verifying anything. Callers use it to invalidate that key's cached
// resolution before retrying verification.
func ExtractKeyID(req *http.Request) (string, error) {
	keyID, _, _, _, _, err := parseSignatureHeaders(req)
	return keyID, err
}

// VerifyOptions controls VerifyRequest beyond the request and resolver.
type VerifyOptions struct {
	// TimeWindow bounds how far the signature's creation time (or, absent
	// one, the Date header) may drift from now. Zero disables the check.
	TimeWindow time.Duration
	// RequireDigest makes VerifyRequest check the Digest header even when
	// the body is empty. A non-empty body always has its Digest checked,
	// whatever this is set to. The zero value is false.
	RequireDigest bool
}

// VerifyRequest verifies req's signature (either profile) against a key
// resolved through resolver, and returns the keyId the signature claimed.
// A non-nil error means the request must be rejected outright — this
// package never returns a "maybe" result.
func VerifyRequest(ctx context.Context, req *http.Request, body []byte, resolver PublicKeyResolver, opts VerifyOptions) (string, error) {
	keyID, algorithm, covered, created, signature, err := parseSignatureHeaders(req)
	if err != nil {
		return "", err
	}

	if opts.TimeWindow > 0 {
		ts := created
		if ts.IsZero() {
			ts, err = http.ParseTime(req.Header.Get("Date"))
			if err != nil {
				return "", fmt.Errorf("httpsig: no usable timestamp to check against time window: %w", err)
			}
		}
		if drift := time.Since(ts); drift > opts.TimeWindow || drift < -opts.TimeWindow {
			return "", fmt.Errorf("httpsig: signature timestamp %s outside the %s time window", ts, opts.TimeWindow)
		}
	}

	if opts.RequireDigest || len(body) > 0 {
		if err := VerifyDigest(req, body); err != nil {
			return "", err
		}
	}

	signingString, err := buildSigningString(req, covered)
	if err != nil {
		return "", err
	}

	resolvedAlgorithm, pubKey, err := resolver.ResolvePublicKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("httpsig: resolving key %q: %w", keyID, err)
	}
	if algorithm != "" && algorithm != resolvedAlgorithm {
		return "", fmt.Errorf("httpsig: signature declared algorithm %q but key %q is %q", algorithm, keyID, resolvedAlgorithm)
	}

	if err := verifySignature(resolvedAlgorithm, pubKey, signingString, signature); err != nil {
		return "", err
	}
	return keyID, nil
}

func verifySignature(algorithm Algorithm, pubKey crypto.PublicKey, signingString string, signature []byte) error {
	switch algorithm {
	case AlgorithmRSASHA256:
		key, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("httpsig: resolved key is not an RSA key")
		}
		digest := sha256.Sum256([]byte(signingString))
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
			return fmt.Errorf("httpsig: rsa-sha256 verification failed: %w", err)
		}
		return nil
	case AlgorithmEd25519:
		key, ok := pubKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("httpsig: resolved key is not an Ed25519 key")
		}
		if !ed25519.Verify(key, []byte(signingString), signature) {
			return fmt.Errorf("httpsig: ed25519 verification failed")
		}
		return nil
	default:
		return fmt.Errorf("httpsig: unsupported algorithm %q", algorithm)
	}
}

// parseSignatureHeaders extracts keyId, algorithm, covered components,
// creation time, and raw signature bytes from whichever profile's headers
// are present.
func parseSignatureHeaders(req *http.Request) (keyID string, algorithm Algorithm, covered []string, created time.Time, signature []byte, err error) {
	if input := req.Header.Get("Signature-Input"); input != "" {
		return parseRFC9421Headers(input, req.Header.Get("Signature"))
	}
	if sig := req.Header.Get("Signature"); sig != "" {
		return parseCavageHeader(sig)
	}
	return "", "", nil, time.Time{}, nil, fmt.Errorf("httpsig: request has no Signature or Signature-Input header")
}

func parseCavageHeader(header string) (string, Algorithm, []string, time.Time, []byte, error) {
	params := parseParamList(header)

	keyID := strings.Trim(params["keyid"], `"`)
	if keyID == "" {
		return "", "", nil, time.Time{}, nil, fmt.Errorf("httpsig: Signature header missing keyId")
	}
	algorithm := Algorithm(strings.Trim(params["algorithm"], `"`))

	headersParam := strings.Trim(params["headers"], `"`)
	var covered []string
	if headersParam != "" {
		covered = strings.Fields(headersParam)
	} else {
		covered = []string{"date"}
	}

	sigB64 := strings.Trim(params["signature"], `"`)
	if sigB64 == "" {
		return "", "", nil, time.Time{}, nil, fmt.Errorf("httpsig: Signature header missing signature value")
	}
	signature, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return "", "", nil, time.Time{}, nil, fmt.Errorf("httpsig: decoding signature: %w", err)
	}

	var created time.Time
	if t, ok := parseCreatedParam(header, "created"); ok {
		created = t
	}

	return keyID, algorithm, covered, created, signature, nil
}

func parseRFC9421Headers(input, signatureHeader string) (string, Algorithm, []string, time.Time, []byte, error) {
	openParen := strings.Index(input, "(")
	closeParen := -1
	if openParen >= 0 {
		inQuote := false
		for i := openParen + 1; i < len(input); i++ {
			if input[i] == '"' {
				inQuote = !inQuote
			} else if input[i] == ')' && !inQuote {
				closeParen = i
				break
			}
		}
	}
	if openParen < 0 || closeParen < 0 {
		return "", "", nil, time.Time{}, nil, fmt.Errorf("httpsig: malformed Signature-Input component list")
	}
	var covered []string
	for _, c := range strings.Fields(input[openParen+1 : closeParen]) {
		covered = append(covered, strings.Trim(c, `"`))
	}

	params := parseParamList(input[closeParen+1:])
	keyID := strings.Trim(params["keyid"], `"`)
	if keyID == "" {
		return "", "", nil, time.Time{}, nil, fmt.Errorf("httpsig: Signature-Input missing keyid")
	}
	algorithm := Algorithm(strings.Trim(params["alg"], `"`))

	var created time.Time
	if t, ok := parseCreatedParam(input, "created"); ok {
		created = t
	}

	label := strings.SplitN(strings.TrimSpace(input), "=", 2)[0]
	sigValue, err := extractStructuredBinary(signatureHeader, label)
	if err != nil {
		return "", "", nil, time.Time{}, nil, err
	}

	return keyID, algorithm, covered, created, sigValue, nil
}

// parseParamList parses a ";"-or-","-separated "name=value" parameter list,
// tolerating the surrounding key="(...)" prefix draft-cavage and RFC 9421
// both use.
func parseParamList(raw string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' }) {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
	}
	return params
}

// extractStructuredBinary reads the `label=:base64:` byte-sequence member
// from an RFC 9421 Signature header value.
func extractStructuredBinary(header, label string) ([]byte, error) {
	prefix := label + "=:"
	idx := strings.Index(header, prefix)
	if idx < 0 {
		return nil, fmt.Errorf("httpsig: Signature header missing entry for %q", label)
	}
	rest := header[idx+len(prefix):]
	end := strings.Index(rest, ":")
	if end < 0 {
		return nil, fmt.Errorf("httpsig: malformed Signature header for %q", label)
	}
	return base64.StdEncoding.DecodeString(rest[:end])
}
