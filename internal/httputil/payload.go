package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// Payload
// =============================================================================

var emptyObject = []byte("{}")

// Payload is a decoded upstream body. It is always a JSON object and is never
// modified after construction, so it can be shared between goroutines.
type Payload struct {
	raw []byte
}

// NewPayload decodes an upstream body. An object is kept as-is, any other
// JSON value is wrapped as {"detail": value} and text that is not JSON at all
// becomes {"detail": "<text>"}, so an empty body yields {"detail": ""}.
func NewPayload(body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return DetailPayload(string(body))
	}
	parsed := gjson.ParseBytes(trimmed)
	if parsed.IsObject() {
		return Payload{raw: append([]byte(nil), trimmed...)}
	}
	raw := make([]byte, 0, len(trimmed)+12)
	raw = append(raw, `{"detail":`...)
	raw = append(raw, trimmed...)
	raw = append(raw, '}')
	return Payload{raw: raw}
}

// DetailPayload builds {"detail": detail}.
func DetailPayload(detail string) Payload {
	raw, _ := json.Marshal(map[string]string{"detail": detail})
	return Payload{raw: raw}
}

// PayloadFrom marshals v and decodes the result with NewPayload.
func PayloadFrom(v interface{}) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	return NewPayload(raw), nil
}

// MustPayload is PayloadFrom for values known to marshal, such as literals.
func MustPayload(v interface{}) Payload {
	p, err := PayloadFrom(v)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Payload) bytes() []byte {
	if len(p.raw) == 0 {
		return emptyObject
	}
	return p.raw
}

// Raw returns a copy of the encoded object.
func (p Payload) Raw() []byte {
	return append([]byte(nil), p.bytes()...)
}

// String returns the encoded object.
func (p Payload) String() string {
	return string(p.bytes())
}

// IsEmpty reports whether the object has no keys.
func (p Payload) IsEmpty() bool {
	empty := true
	gjson.ParseBytes(p.bytes()).ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

// Get looks up a gjson path. Missing keys yield a Result whose Exists is false.
func (p Payload) Get(path string) gjson.Result {
	return gjson.GetBytes(p.bytes(), path)
}

// Root returns the whole object as a gjson result.
func (p Payload) Root() gjson.Result {
	return gjson.ParseBytes(p.bytes())
}

// Detail returns the "detail" field as text, falling back to the compact
// encoding of the whole object.
func (p Payload) Detail() string {
	detail := p.Get("detail")
	switch {
	case !detail.Exists():
		var buf bytes.Buffer
		if err := json.Compact(&buf, p.bytes()); err != nil {
			return p.String()
		}
		return buf.String()
	case detail.Type == gjson.String:
		return detail.Str
	default:
		return strings.TrimSpace(detail.Raw)
	}
}

// Map decodes the object into a generic map.
func (p Payload) Map() map[string]interface{} {
	out := make(map[string]interface{})
	_ = json.Unmarshal(p.bytes(), &out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Only objects are accepted.
func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject() {
		return fmt.Errorf("payload must be a JSON object")
	}
	p.raw = append([]byte(nil), trimmed...)
	return nil
}
