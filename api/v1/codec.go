package apiv1

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the service messages travel under.
const CodecName = "oblivwire"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec marshals Message values to the protobuf wire format.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("oblivwire: cannot marshal %T", v)
	}
	return m.AppendWire(nil), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("oblivwire: cannot unmarshal into %T", v)
	}
	if err := m.UnmarshalWire(data); err != nil {
		return fmt.Errorf("oblivwire: %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return CodecName }
