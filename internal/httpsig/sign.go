package httpsig

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignOptions controls SignRequest beyond the key and profile.
type SignOptions struct {
	// Covered lists the components to sign, in order. Defaults to
	// defaultCoveredComponents when nil.
	Covered []string
	// Created is the signing time: the "created" parameter under RFC 9421,
	// and under both profiles the Date header value when req has none. The
	// draft-cavage Signature header carries no created parameter. Defaults
	// to time.Now().
	Created time.Time
}

// SignRequest signs req with key under profile, setting the Date header (if
// absent), a Digest header derived from body, and the profile's signature
// header(s). req.Body is not consumed; the caller supplies body separately
// since it has usually already been read for JSON decoding upstream.
func SignRequest(req *http.Request, body []byte, key PrivateKey, profile Profile, opts SignOptions) error {
	covered := opts.Covered
	if covered == nil {
		covered = defaultCoveredComponents
	}
	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}

	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", created.UTC().Format(http.TimeFormat))
	}
	SetDigest(req, body)

	signingString, err := buildSigningString(req, covered)
	if err != nil {
		return err
	}

	signature, err := sign(key, signingString)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(signature)

	switch profile {
	case ProfileCavage:
		req.Header.Set("Signature", fmt.Sprintf(
			`keyId="%s",algorithm="%s",headers="%s",signature="%s"`,
			key.KeyID, key.Algorithm, strings.Join(covered, " "), encoded,
		))
	case ProfileRFC9421:
		label := "sig1"
		componentList := make([]string, len(covered))
		for i, c := range covered {
			componentList[i] = `"` + strings.ToLower(c) + `"`
		}
		req.Header.Set("Signature-Input", fmt.Sprintf(
			`%s=(%s);keyid="%s";alg="%s";created=%d`,
			label, strings.Join(componentList, " "), key.KeyID, key.Algorithm, created.Unix(),
		))
		req.Header.Set("Signature", fmt.Sprintf(`%s=:%s:`, label, encoded))
	default:
		return fmt.Errorf("httpsig: unsupported profile %q", profile)
	}

	return nil
}

// sign produces the raw signature bytes for signingString under key.
func sign(key PrivateKey, signingString string) ([]byte, error) {
	switch key.Algorithm {
	case AlgorithmRSASHA256:
		if key.RSA == nil {
			return nil, fmt.Errorf("httpsig: rsa-sha256 key %q has no RSA material", key.KeyID)
		}
		digest := sha256.Sum256([]byte(signingString))
		return rsa.SignPKCS1v15(rand.Reader, key.RSA, crypto.SHA256, digest[:])
	case AlgorithmEd25519:
		if key.Ed25519 == nil {
			return nil, fmt.Errorf("httpsig: ed25519 key %q has no Ed25519 material", key.KeyID)
		}
		return ed25519.Sign(key.Ed25519, []byte(signingString)), nil
	default:
		return nil, fmt.Errorf("httpsig: unsupported algorithm %q", key.Algorithm)
	}
}

// parseCreatedParam extracts an integer signature parameter such as
// created=1700000000 from a cavage Signature header or RFC 9421
// Signature-Input header fragment.
func parseCreatedParam(raw, name string) (time.Time, bool) {
	idx := strings.Index(raw, name+"=")
	if idx < 0 {
		return time.Time{}, false
	}
	rest := raw[idx+len(name)+1:]
	end := strings.IndexAny(rest, ";, ")
	if end >= 0 {
		rest = rest[:end]
	}
	sec, err := strconv.ParseInt(strings.Trim(rest, `"`), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
