package pool

import "fmt"

// rawCodec passes gRPC message frames through untouched. The gateway
// never interprets upstream payloads; the JSON request body is the
// message, byte for byte.
type rawCodec struct{}

func (rawCodec) Name() string { return "gateway-raw" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: expected *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: expected *[]byte, got %T", v)
	}
	*b = data
	return nil
}
