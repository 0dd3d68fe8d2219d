package negotiation

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// controlLabel names the data channel peers use to introduce themselves.
const controlLabel = "control"

const controlTypeDeviceInfo = "device-info"

// controlMessage is one message on the control data channel.
type controlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// deviceInfoPayload is sent by each side as soon as the channel opens.
type deviceInfoPayload struct {
	DeviceName    string `msgpack:"deviceName"`
	DeviceVersion string `msgpack:"deviceVersion"`
}

func encodeDeviceInfo(info PeerInfo) ([]byte, error) {
	payload, err := msgpack.Marshal(deviceInfoPayload{DeviceName: info.DeviceName, DeviceVersion: info.Version})
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(controlMessage{Type: controlTypeDeviceInfo, Payload: payload})
}

// decodeControl parses a control message. Unknown types report ok=false.
func decodeControl(data []byte) (info PeerInfo, ok bool, err error) {
	var msg controlMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return PeerInfo{}, false, fmt.Errorf("decode control message: %w", err)
	}
	if msg.Type != controlTypeDeviceInfo {
		return PeerInfo{}, false, nil
	}

	var p deviceInfoPayload
	if err := msgpack.Unmarshal(msg.Payload, &p); err != nil {
		return PeerInfo{}, false, fmt.Errorf("decode device info: %w", err)
	}
	return PeerInfo{DeviceName: p.DeviceName, Version: p.DeviceVersion}, true, nil
}
