package codec

import (
	"bytes"
	"encoding/json"
)

// JSON is the default codec. The zero value is ready to use.
//
// With Strict set, Decode rejects objects carrying fields V does not declare.
// Useful when several services share a cache namespace and a schema drift
// should surface as a miss rather than a half-filled value.
type JSON[V any] struct {
	Strict bool
}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (j JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if !j.Strict {
		err := json.Unmarshal(b, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}
