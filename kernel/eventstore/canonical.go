package eventstore

import (
	"bytes"
	"encoding/json"
)

// canonicalize re-encodes payload with object keys sorted and no
// insignificant whitespace, so hashChain produces the same eventHash for
// the same logical payload regardless of field order on the wire.
// encoding/json already sorts map keys; for struct-derived payloads the
// caller's RawMessage is decoded to an any and re-marshaled to normalize
// field order too.
func canonicalize(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("null"), nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
