package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDeviceInfoRoundTrip(t *testing.T) {
	data, err := encodeDeviceInfo(PeerInfo{DeviceName: "Host", Version: "v1.2.0"})
	require.NoError(t, err)

	info, ok, err := decodeControl(data)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PeerInfo{DeviceName: "Host", Version: "v1.2.0"}, info)
}

func TestDecodeControlUnknownType(t *testing.T) {
	data, err := msgpack.Marshal(controlMessage{Type: "chat"})
	require.NoError(t, err)

	_, ok, err := decodeControl(data)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = decodeControl([]byte{0xc1})
	assert.Error(t, err)
}
