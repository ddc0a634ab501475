package session

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"time"
)

// Codec is an interface for serializing and deserializing session data.
type Codec interface {
	// Decode decodes byte slice into the session creation time and values.
	Decode(data []byte) (createdAt time.Time, values map[string]any, err error)

	// Encode encodes the creation time and session values into a byte slice.
	Encode(createdAt time.Time, values map[string]any) (data []byte, err error)
}

var (
	_ Codec = GobCodec{}
	_ Codec = JSONCodec{}
)

type envelope struct {
	CreatedAt time.Time      `json:"created_at"`
	Values    map[string]any `json:"values"`
}

// GobCodec serializes sessions with encoding/gob. Values of non-basic types
// must be registered with gob.Register before use. This is the default.
type GobCodec struct{}

// Encode implements Codec.
func (GobCodec) Encode(createdAt time.Time, values map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&envelope{CreatedAt: createdAt, Values: values}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (GobCodec) Decode(data []byte) (time.Time, map[string]any, error) {
	var e envelope
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e)
	return e.CreatedAt, e.Values, err
}

// JSONCodec serializes sessions as JSON, which keeps records readable in
// stores such as redis. Numbers decode as json.Number.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(createdAt time.Time, values map[string]any) ([]byte, error) {
	return json.Marshal(&envelope{CreatedAt: createdAt, Values: values})
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (time.Time, map[string]any, error) {
	var e envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return time.Time{}, nil, err
	}
	if e.Values == nil {
		e.Values = make(map[string]any)
	}
	return e.CreatedAt, e.Values, nil
}
