package apiv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodec_PutRequest(t *testing.T) {
	c := codec{}
	in := &PutRequest{Address: "ab12", Value: []byte{0, 1, 2, 3}}

	b, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(PutRequest)
	require.NoError(t, c.Unmarshal(b, out))
	assert.Equal(t, in, out)

	// decoded bytes must not alias the wire buffer
	b[len(b)-1] = 0xff
	assert.Equal(t, byte(3), out.Value[3])
}

func TestCodec_GetResponseZeroValueIsEmpty(t *testing.T) {
	b, err := codec{}.Marshal(&GetResponse{})
	require.NoError(t, err)
	assert.Empty(t, b)

	out := &GetResponse{Value: []byte("stale"), Found: true}
	require.NoError(t, codec{}.Unmarshal(b, out))
	assert.False(t, out.Found)
	assert.Nil(t, out.Value)
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 77)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "node-2")
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("ignored"))

	out := new(LeaveRequest)
	require.NoError(t, codec{}.Unmarshal(b, out))
	assert.Equal(t, "node-2", out.NodeId)
}

func TestCodec_RejectsTruncatedInput(t *testing.T) {
	b := (&JoinRequest{NodeId: "node-1", RaftAddress: "127.0.0.1:9000"}).AppendWire(nil)

	err := codec{}.Unmarshal(b[:len(b)-3], new(JoinRequest))
	require.Error(t, err)
}

func TestCodec_RejectsForeignTypes(t *testing.T) {
	_, err := codec{}.Marshal("not a message")
	require.Error(t, err)
	require.Error(t, codec{}.Unmarshal(nil, new(int)))
	assert.Equal(t, CodecName, codec{}.Name())
}
