package entity

import (
	"encoding/json"
	"fmt"
)

// Payload is a JSON object: a create payload, an update patch or a full
// record. Values are whatever encoding/json produces (map[string]any, []any,
// string, float64, bool, nil) or plain Go values that marshal the same way.
type Payload map[string]any

// Clone returns a deep copy of p. Nested objects and arrays are copied so the
// result shares nothing with p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.Clone()
	case map[string]any:
		return map[string]any(Payload(val).Clone())
	case []any:
		arr := make([]any, len(val))
		for i, elem := range val {
			arr[i] = cloneValue(elem)
		}
		return arr
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// Merge returns a copy of p with the fields of patch laid over it. Later
// fields win; nested values are replaced, not merged.
func (p Payload) Merge(patch Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = make(Payload, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// String returns the string field key, or "" when absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// ToPayload converts a record to its JSON object form.
func ToPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("to payload: %w", err)
	}
	return p, nil
}

// FromPayload decodes p into out.
func FromPayload(p Payload, out any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("from payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("from payload: %w", err)
	}
	return nil
}

// ApplyPatch lays patch over rec and decodes the result back into a T.
// Fields in patch that T does not know are dropped.
func ApplyPatch[T any](rec T, patch Payload) (T, error) {
	var out T
	p, err := ToPayload(rec)
	if err != nil {
		return out, err
	}
	if err := FromPayload(p.Merge(patch), &out); err != nil {
		return out, err
	}
	return out, nil
}
