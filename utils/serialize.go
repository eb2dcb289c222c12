package utils

import (
	"bytes"
	"encoding/json"

	"github.com/juju/errors"
)

// Serialize encodes values kept in the store. HTML escaping is off so
// bindings such as "$SOURCE.a<b" stay readable in the stored records.
func Serialize(o any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(o); err != nil {
		return nil, errors.Trace(err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func Unserialize(b []byte, o any) error {
	return errors.Trace(json.Unmarshal(b, o))
}
