package gateway

// envelope.go normalizes the response envelopes returned by the document backend.
//
// The same logical payload T can arrive in several shapes depending on whether
// the RPC or the REST flavour of an endpoint answered:
//
//	{"message": T}   RPC methods (/api/method/...)
//	{"docs": [T]}    document save through the REST layer
//	T                anything else
//
// A bare T keeps all of its keys. Preview payloads carry their rows under
// "data", so that key is never treated as an envelope.
//
// Unwrap is applied exactly once, at the client boundary, so callers only ever
// see the normalized T.

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ErrInvalidEnvelope is returned when a response body is not valid JSON.
var ErrInvalidEnvelope = errors.New("response body is not valid JSON")

// Unwrap extracts the payload from a response envelope.
func Unwrap(body []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidEnvelope
	}

	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return json.RawMessage(res.Raw), nil
	}

	if msg := res.Get("message"); msg.Exists() && msg.Type != gjson.Null {
		return json.RawMessage(msg.Raw), nil
	}

	if docs := res.Get("docs"); docs.IsArray() {
		if items := docs.Array(); len(items) > 0 {
			return json.RawMessage(items[0].Raw), nil
		}
	}

	return json.RawMessage(res.Raw), nil
}

// UnwrapList extracts a payload that is expected to be a sequence.
// A single object is promoted to a one-element list; null yields an empty list.
func UnwrapList(body []byte) ([]json.RawMessage, error) {
	payload, err := Unwrap(body)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(payload)
	switch {
	case res.IsArray():
		items := res.Array()
		out := make([]json.RawMessage, 0, len(items))
		for _, item := range items {
			out = append(out, json.RawMessage(item.Raw))
		}
		return out, nil
	case res.Type == gjson.Null:
		return []json.RawMessage{}, nil
	default:
		return []json.RawMessage{payload}, nil
	}
}
