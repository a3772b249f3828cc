package configgen

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalHash computes the hex-encoded SHA-256 of v serialized with map
// keys recursively sorted alphabetically (arrays preserve their order).
// This is the cross-implementation source of truth for drift detection:
// the hash of {a:1,b:2} must equal the hash of {b:2,a:1}.
func CanonicalHash(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize renders v as compact JSON with every object's keys emitted
// in sorted order, recursively.
func canonicalize(v any) ([]byte, error) {
	// Round-trip through json.Marshal/Unmarshal first so arbitrary Go
	// struct values and map[string]any alike land in the same normalized
	// shape (map[string]any / []any / float64 / string / bool / nil)
	// before the ordered encode.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("configgen: marshal for canonicalization: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("configgen: unmarshal for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	}
}
