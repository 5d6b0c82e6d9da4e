// Package codec is the encoding boundary of the engines: the memory engine
// keeps documents as CBOR, the sqlite engine and the websocket wire use
// JSON.
package codec

// Codec turns documents into bytes and back. Unmarshal of Marshal's output
// yields the generic document shape (map[string]any, []any).
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, dst any) error
}
