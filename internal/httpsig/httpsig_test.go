package httpsig

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"strings"
	"testing"
	"time"
)

type staticResolver struct {
	algorithm Algorithm
	public    crypto.PublicKey
}

func (r staticResolver) ResolvePublicKey(_ context.Context, _ string) (Algorithm, crypto.PublicKey, error) {
	return r.algorithm, r.public, nil
}

func newSignedRequest(t *testing.T, key PrivateKey, profile Profile) (*http.Request, []byte) {
	t.Helper()
	body := []byte(`{"id":"https://ex.example/create/1","type":"Create"}`)
	req, err := http.NewRequest(http.MethodPost, "https://remote.example/users/bob/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Host = "remote.example"

	if err := SignRequest(req, body, key, profile, SignOptions{Created: time.Now()}); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	return req, body
}

func TestSignVerifyRoundTripRSACavage(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := PrivateKey{KeyID: "https://ex.example/users/alice#main-key", Algorithm: AlgorithmRSASHA256, RSA: rsaKey}

	req, body := newSignedRequest(t, key, ProfileCavage)

	keyID, err := VerifyRequest(context.Background(), req, body, staticResolver{AlgorithmRSASHA256, &rsaKey.PublicKey}, VerifyOptions{TimeWindow: time.Hour})
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if keyID != key.KeyID {
		t.Errorf("keyID = %q, want %q", keyID, key.KeyID)
	}
}

func TestSignVerifyRoundTripEd25519RFC9421(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := PrivateKey{KeyID: "https://ex.example/users/alice#main-key", Algorithm: AlgorithmEd25519, Ed25519: priv}

	req, body := newSignedRequest(t, key, ProfileRFC9421)

	keyID, err := VerifyRequest(context.Background(), req, body, staticResolver{AlgorithmEd25519, pub}, VerifyOptions{TimeWindow: time.Hour})
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if keyID != key.KeyID {
		t.Errorf("keyID = %q, want %q", keyID, key.KeyID)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	key := PrivateKey{KeyID: "k", Algorithm: AlgorithmRSASHA256, RSA: rsaKey}
	req, body := newSignedRequest(t, key, ProfileCavage)

	tampered := append(append([]byte(nil), body...), 'x')
	if _, err := VerifyRequest(context.Background(), req, tampered, staticResolver{AlgorithmRSASHA256, &rsaKey.PublicKey}, VerifyOptions{TimeWindow: time.Hour}); err == nil {
		t.Fatal("expected digest mismatch for tampered body")
	}
}

func TestVerifyRejectsSignatureOutsideTimeWindow(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	key := PrivateKey{KeyID: "k", Algorithm: AlgorithmRSASHA256, RSA: rsaKey}

	body := []byte(`{}`)
	req, _ := http.NewRequest(http.MethodPost, "https://remote.example/inbox", bytes.NewReader(body))
	req.Host = "remote.example"
	if err := SignRequest(req, body, key, ProfileCavage, SignOptions{Created: time.Now().Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	req.Header.Set("Date", time.Now().Add(-2*time.Hour).UTC().Format(http.TimeFormat))

	if _, err := VerifyRequest(context.Background(), req, body, staticResolver{AlgorithmRSASHA256, &rsaKey.PublicKey}, VerifyOptions{TimeWindow: 5 * time.Minute}); err == nil {
		t.Fatal("expected time window rejection")
	}
}

func TestVerifyRejectsMissingSignatureHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://remote.example/users/bob", nil)
	if _, err := VerifyRequest(context.Background(), req, nil, staticResolver{}, VerifyOptions{}); err == nil {
		t.Fatal("expected error for request with no signature headers")
	}
}

func TestCavageHeaderFormat(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	key := PrivateKey{KeyID: "https://ex.example/users/alice#main-key", Algorithm: AlgorithmRSASHA256, RSA: rsaKey}
	req, _ := newSignedRequest(t, key, ProfileCavage)

	sig := req.Header.Get("Signature")
	if !strings.Contains(sig, `keyId="https://ex.example/users/alice#main-key"`) {
		t.Errorf("Signature header missing keyId: %s", sig)
	}
	if !strings.Contains(sig, `algorithm="rsa-sha256"`) {
		t.Errorf("Signature header missing algorithm: %s", sig)
	}
}
