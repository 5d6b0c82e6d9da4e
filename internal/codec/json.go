package codec

import "github.com/goccy/go-json"

type jsonCodec struct{}

// JSON returns a codec backed by goccy/go-json.
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}
