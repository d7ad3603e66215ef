// Package encoding provides centralized serialization for fieldstone.
// All msgpack operations go through this package so row payloads decode
// the same way everywhere.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Type Preservation: when decoding into interface{}, string values decode
// as Go strings rather than []byte. Index key projection distinguishes
// string keys from everything else, so a payload that round-trips through
// the backstore must come back with the same kinds or primary key lookups
// would miss.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format. Map keys are written in sorted
// order, so equal values always encode to equal bytes.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding, so
// strings come back as strings instead of []byte.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
