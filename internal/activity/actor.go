package activity

import (
	"encoding/json"
	"strings"
)

// Actor is the minimal projection of a JSON-LD actor document: identity,
// inbox endpoints, and public keys, per spec.md §3 Actor.
type Actor struct {
	ID               string      `json:"id"`
	Type             string      `json:"type"`
	Inbox            string      `json:"inbox"`
	SharedInbox      string      `json:"-"`
	PublicKeys       []PublicKey `json:"publicKey,omitempty"`
	FollowersURL     string      `json:"followers,omitempty"`
	FollowingURL     string      `json:"following,omitempty"`
	AssertionMethods []string    `json:"assertionMethod,omitempty"`
	Raw              Document    `json:"-"`
}

// PublicKey is one entry of an actor's published publicKey set (spec.md §3
// Key). Algorithm is inferred from the PEM/multibase shape, not declared, so
// that actors published by systems that omit an explicit algorithm field
// still resolve correctly.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner,omitempty"`
	Controller   string `json:"controller,omitempty"`
	PublicKeyPem string `json:"publicKeyPem,omitempty"`
	Multibase    string `json:"publicKeyMultibase,omitempty"`
}

// Algorithm names a signing algorithm this package knows how to verify.
type Algorithm string

const (
	AlgorithmRSASHA256  Algorithm = "rsa-sha256"
	AlgorithmEd25519    Algorithm = "ed25519"
	AlgorithmUnknown    Algorithm = ""
)

// Algorithm infers the key's algorithm from its encoded material: an RSA PEM
// block or an Ed25519 multibase string.
func (k PublicKey) Algorithm() Algorithm {
	switch {
	case k.PublicKeyPem != "":
		return AlgorithmRSASHA256
	case k.Multibase != "":
		return AlgorithmEd25519
	default:
		return AlgorithmUnknown
	}
}

// OwnerURL returns the actor URL this key claims to belong to, checking
// "owner" first then "controller" — the two alternate forms spec.md §4.D
// requires the verifier to follow.
func (k PublicKey) OwnerURL() string {
	if k.Owner != "" {
		return k.Owner
	}
	return k.Controller
}

// ParseActor decodes raw JSON-LD bytes into an Actor.
func ParseActor(data []byte) (*Actor, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	a := &Actor{Raw: doc}
	a.ID, _ = doc["id"].(string)
	a.Type, _ = typeOf(doc["type"])
	a.Inbox = stringOf(doc["inbox"])
	a.FollowersURL = stringOf(doc["followers"])
	a.FollowingURL = stringOf(doc["following"])

	if endpoints, ok := doc["endpoints"].(map[string]interface{}); ok {
		a.SharedInbox = stringOf(endpoints["sharedInbox"])
	}

	a.PublicKeys = parsePublicKeys(doc["publicKey"])
	a.AssertionMethods = parseAssertionMethods(doc["assertionMethod"])
	return a, nil
}

// parseAssertionMethods extracts key URLs from an assertionMethod claim,
// which JSON-LD permits as a single string, an embedded object carrying
// its own "id", or an array of either.
func parseAssertionMethods(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return []string{id}
		}
		return nil
	case []interface{}:
		var out []string
		for _, e := range t {
			if s := stringOf(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AssertsKey reports whether keyID appears in the actor's declared
// assertionMethod set — the third alternate form spec.md §4.D allows
// alongside a key's own owner/controller fields when establishing that
// an actor owns a signing key.
func (a Actor) AssertsKey(keyID string) bool {
	for _, id := range a.AssertionMethods {
		if id == keyID {
			return true
		}
	}
	return false
}

func parsePublicKeys(v interface{}) []PublicKey {
	var entries []interface{}
	switch t := v.(type) {
	case map[string]interface{}:
		entries = []interface{}{t}
	case []interface{}:
		entries = t
	default:
		return nil
	}

	keys := make([]PublicKey, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		keys = append(keys, PublicKey{
			ID:           stringOf(m["id"]),
			Owner:        stringOf(m["owner"]),
			Controller:   stringOf(m["controller"]),
			PublicKeyPem: stringValue(m["publicKeyPem"]),
			Multibase:    stringValue(m["publicKeyMultibase"]),
		})
	}
	return keys
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func parseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// KeyByID returns the public key entry whose id matches keyID, tolerating
// the trailing-fragment form some implementations use (url#main-key).
func (a Actor) KeyByID(keyID string) (PublicKey, bool) {
	for _, k := range a.PublicKeys {
		if k.ID == keyID || strings.TrimSuffix(k.ID, "#main-key") == strings.TrimSuffix(keyID, "#main-key") {
			return k, true
		}
	}
	return PublicKey{}, false
}
