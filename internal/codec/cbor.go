package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a codec that keeps time values tagged and decodes maps
// into map[string]any so documents come back in their generic shape.
func CBOR() Codec {
	em, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
		Sort:    cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		TimeTag:        cbor.DecTagOptional,
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return &cborCodec{enc: em, dec: dm}
}

func (c *cborCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *cborCodec) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}
