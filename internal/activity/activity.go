// Package activity defines the JSON-LD shaped types the federation engine
// treats as opaque aside from the fields it extracts, and the subtype
// hierarchy used to resolve inbox listeners. Activities and actors are plain
// maps at the wire level — this package projects the handful of fields the
// engine needs without requiring a full vocabulary code-generation step,
// matching spec.md's design note that the deep generated class hierarchy is
// re-architected as tagged variants with a typeId -> constructor mapping.
package activity

import (
	"encoding/json"
	"fmt"

	"github.com/fedcore/fedcore"
)

// Document is a JSON-LD document represented as a raw object. The engine
// never interprets fields beyond what Activity/Actor extract.
type Document map[string]interface{}

// Activity is the minimal projection of a JSON-LD activity document: an id,
// a type, and the recipient-addressing fields the outbound/inbound pipelines
// need. Any additional vocabulary fields remain in Raw, untouched.
type Activity struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Actor    string   `json:"actor,omitempty"`
	Object   string   `json:"object,omitempty"`
	To       []string `json:"to,omitempty"`
	Cc       []string `json:"cc,omitempty"`
	Bto      []string `json:"bto,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Audience []string `json:"audience,omitempty"`
	Raw      Document `json:"-"`
}

// Recipients returns the union of to/cc/bto/bcc/audience, the set an
// outbound send must resolve to inboxes (spec.md §4.G step 2).
func (a Activity) Recipients() []string {
	var out []string
	for _, set := range [][]string{a.To, a.Cc, a.Bto, a.Bcc, a.Audience} {
		out = append(out, set...)
	}
	return out
}

// ParseActivity decodes raw JSON-LD bytes into an Activity, keeping the full
// document in Raw. Returns an input error (never a transport error) on
// malformed JSON or a missing id/type, matching spec.md §4.F step 1.
func ParseActivity(data []byte) (*Activity, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fedcore.New(fedcore.KindInput, "parsing activity JSON-LD", err)
	}
	a := &Activity{Raw: doc}

	id, _ := doc["id"].(string)
	if id == "" {
		return nil, fedcore.New(fedcore.KindInput, fmt.Sprintf("activity missing required field %q", "id"), nil)
	}
	a.ID = id

	typ, err := typeOf(doc["type"])
	if err != nil || typ == "" {
		return nil, fedcore.New(fedcore.KindInput, fmt.Sprintf("activity missing required field %q", "type"), nil).WithActivityID(id)
	}
	a.Type = typ

	a.Actor = stringOf(doc["actor"])
	a.Object = stringOf(doc["object"])
	a.To = stringsOf(doc["to"])
	a.Cc = stringsOf(doc["cc"])
	a.Bto = stringsOf(doc["bto"])
	a.Bcc = stringsOf(doc["bcc"])
	a.Audience = stringsOf(doc["audience"])

	return a, nil
}

// typeOf extracts a type value that may be a single string or an array of
// strings (JSON-LD permits both); the first entry is used as the primary
// type for dispatch purposes.
func typeOf(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []interface{}:
		if len(t) == 0 {
			return "", fmt.Errorf("empty type array")
		}
		s, ok := t[0].(string)
		if !ok {
			return "", fmt.Errorf("type array entry is not a string")
		}
		return s, nil
	default:
		return "", fmt.Errorf("unsupported type shape %T", v)
	}
}

// stringOf extracts a single string from a value that may itself be a
// string or an embedded object carrying its own "id" (JSON-LD compaction
// allows actor/object to be inlined).
func stringOf(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return id
		}
	}
	return ""
}

// stringsOf extracts a slice of addressee strings from a value that may be a
// single string, an array of strings, or an array of inline objects.
func stringsOf(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
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

// MarshalJSON re-serializes the activity, merging the projected fields back
// into Raw so that fields callers assigned via the Activity struct (e.g. a
// freshly constructed outbound activity) survive encoding even when Raw was
// never populated.
func (a Activity) MarshalJSON() ([]byte, error) {
	doc := make(Document, len(a.Raw)+8)
	for k, v := range a.Raw {
		doc[k] = v
	}
	doc["id"] = a.ID
	doc["type"] = a.Type
	setOrDelete(doc, "actor", a.Actor)
	setOrDelete(doc, "object", a.Object)
	setSliceOrDelete(doc, "to", a.To)
	setSliceOrDelete(doc, "cc", a.Cc)
	setSliceOrDelete(doc, "bto", a.Bto)
	setSliceOrDelete(doc, "bcc", a.Bcc)
	setSliceOrDelete(doc, "audience", a.Audience)
	return json.Marshal(doc)
}

func setOrDelete(doc Document, key, value string) {
	if value == "" {
		delete(doc, key)
		return
	}
	doc[key] = value
}

func setSliceOrDelete(doc Document, key string, values []string) {
	if len(values) == 0 {
		delete(doc, key)
		return
	}
	doc[key] = values
}
