package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Key derives a cache key as the SHA-256 of a canonical JSON encoding of
// the identifying tuple, e.g. Key(toolName, args, userScope) for the tool
// cache. The encoding is stable across equivalent JSON inputs: object keys
// are sorted recursively before hashing.
func Key(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(canonicalJSON(part))
		h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON renders v as JSON with recursively sorted object keys.
func canonicalJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		// Unmarshalable values still need a stable identity.
		return []byte(fmt.Sprintf("%#v", v))
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	out, err := marshalSorted(decoded)
	if err != nil {
		return raw
	}
	return out
}

func marshalSorted(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		return append(buf, ']'), nil
	default:
		return json.Marshal(t)
	}
}
