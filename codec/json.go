package codec

import (
	"github.com/bytedance/sonic"
)

var jsonConfig = sonic.ConfigStd

// JSON is the default wire codec
type JSON struct{}

// NewJSON returns the JSON codec
func NewJSON() *JSON {
	return &JSON{}
}

// Encode marshals v as JSON
func (JSON) Encode(v interface{}) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

// Decode unmarshals data into v. Syntax and type errors are reported as *DecodeError.
func (JSON) Decode(data []byte, v interface{}) error {
	if err := jsonConfig.Unmarshal(data, v); err != nil {
		return &DecodeError{Payload: data, Err: err}
	}
	return nil
}

// ContentType returns the MIME type of encoded payloads
func (JSON) ContentType() string {
	return "application/json"
}

// Default is the codec used when none is configured
var Default Codec = JSON{}
