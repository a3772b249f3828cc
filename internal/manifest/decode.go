package manifest

import "encoding/json"

// decodeEnvelope re-marshals a loosely-typed document (as produced by
// unmarshaling arbitrary JSON/YAML into map[string]any) into a typed
// Manifest. Re-marshaling through encoding/json is the simplest way to get
// strict field mapping without hand-rolling per-field extraction, and the
// documents here are small control-plane objects, not a hot path.
func decodeEnvelope(raw map[string]any) (*Manifest, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
