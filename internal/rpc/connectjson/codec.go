package connectjson

import (
	"bytes"
	"encoding/json"

	"github.com/bufbuild/connect-go"
)

// Codec encodes generation requests and events as JSON for Connect handlers.
// HTML escaping is off so generated code and diagnostics stay readable on the wire.
type Codec struct{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ connect.Codec = (*Codec)(nil)
