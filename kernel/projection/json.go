package projection

import "encoding/json"

func unmarshalLenient(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
