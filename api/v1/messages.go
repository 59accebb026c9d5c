// Package apiv1 holds the messages and service definition of
// oblivkv.v1.BackendService (see backend.proto). Messages encode to the
// protobuf wire format with protowire, so any protobuf peer can talk to it.
package apiv1

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every request and response of the service.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

type GetRequest struct {
	Address string
}

func (m *GetRequest) AppendWire(b []byte) []byte {
	return appendString(b, 1, m.Address)
}

func (m *GetRequest) UnmarshalWire(b []byte) error {
	*m = GetRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			m.Address = v
			return n, true
		}
		return 0, false
	})
}

type GetResponse struct {
	Value []byte
	Found bool
}

func (m *GetResponse) AppendWire(b []byte) []byte {
	b = appendBytes(b, 1, m.Value)
	return appendBool(b, 2, m.Found)
}

func (m *GetResponse) UnmarshalWire(b []byte) error {
	*m = GetResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Value = append([]byte(nil), v...)
			return n, true
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Found = protowire.DecodeBool(v)
			return n, true
		}
		return 0, false
	})
}

type PutRequest struct {
	Address string
	Value   []byte
}

func (m *PutRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Address)
	return appendBytes(b, 2, m.Value)
}

func (m *PutRequest) UnmarshalWire(b []byte) error {
	*m = PutRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Address = v
			return n, true
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.Value = append([]byte(nil), v...)
			return n, true
		}
		return 0, false
	})
}

type PutResponse struct{}

func (m *PutResponse) AppendWire(b []byte) []byte { return b }

func (m *PutResponse) UnmarshalWire(b []byte) error {
	return consumeFields(b, skipAll)
}

type JoinRequest struct {
	NodeId      string
	RaftAddress string
}

func (m *JoinRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.NodeId)
	return appendString(b, 2, m.RaftAddress)
}

func (m *JoinRequest) UnmarshalWire(b []byte) error {
	*m = JoinRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool) {
		if typ != protowire.BytesType {
			return 0, false
		}
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			m.NodeId = v
			return n, true
		case 2:
			v, n := protowire.ConsumeString(b)
			m.RaftAddress = v
			return n, true
		}
		return 0, false
	})
}

type JoinResponse struct{}

func (m *JoinResponse) AppendWire(b []byte) []byte { return b }

func (m *JoinResponse) UnmarshalWire(b []byte) error {
	return consumeFields(b, skipAll)
}

type LeaveRequest struct {
	NodeId string
}

func (m *LeaveRequest) AppendWire(b []byte) []byte {
	return appendString(b, 1, m.NodeId)
}

func (m *LeaveRequest) UnmarshalWire(b []byte) error {
	*m = LeaveRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			m.NodeId = v
			return n, true
		}
		return 0, false
	})
}

type LeaveResponse struct{}

func (m *LeaveResponse) AppendWire(b []byte) []byte { return b }

func (m *LeaveResponse) UnmarshalWire(b []byte) error {
	return consumeFields(b, skipAll)
}

// proto3 omits fields holding their zero value.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// fieldFunc decodes one known field value from b and returns the protowire
// length consumed. Unknown fields report false and are skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, bool)

func skipAll(protowire.Number, protowire.Type, []byte) (int, bool) { return 0, false }

func consumeFields(b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, ok := field(num, typ, b)
		if !ok {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}
