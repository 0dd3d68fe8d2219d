package protocol

import "github.com/pion/webrtc/v4"

// Message type constants. Offer, answer and candidate bodies carry no type.
const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeRestart     = "restart"
	TypeReqListUser = "req-list-user"
	TypeResListUser = "res-list-user"
	TypeReqRegister = "req-register"
)

// Roles announced on registration.
const (
	RoleHost = "host"
	RoleUser = "user"
)

// User is one registry entry as seen on the wire.
type User struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	DeviceName string `json:"deviceName"`
}

// Envelope holds the fields the relay inspects. Everything else in a
// message is opaque to it and forwarded as received.
type Envelope struct {
	Type       string `json:"type,omitempty"`
	ID         string `json:"id,omitempty"`
	Role       string `json:"role,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// UserList is the relay's roster snapshot reply.
type UserList struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

// NewUserList builds a res-list-user reply. A nil slice is sent as [].
func NewUserList(users []User) UserList {
	if users == nil {
		users = []User{}
	}
	return UserList{Type: TypeResListUser, Users: users}
}

// Message is the client-side view of every relay message.
type Message struct {
	Type       string `json:"type,omitempty"`
	ID         string `json:"id,omitempty"`
	Role       string `json:"role,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	Users      []User `json:"users,omitempty"`

	Offer            *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer           *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate        *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SelectedDeviceID []string                   `json:"selectedDeviceId,omitempty"`
}

// Ping is the transport keepalive.
func Ping() Message { return Message{Type: TypePing} }

// Restart is the broadcast reset signal.
func Restart() Message { return Message{Type: TypeRestart} }

// ListUsers asks the relay for the current roster.
func ListUsers() Message { return Message{Type: TypeReqListUser} }

// Register announces this connection's identity to the relay.
func Register(id, role, deviceName string) Message {
	return Message{Type: TypeReqRegister, ID: id, Role: role, DeviceName: deviceName}
}

// Offer targets an offer at the listed device ids.
func Offer(sd webrtc.SessionDescription, targets []string) Message {
	return Message{Offer: &sd, SelectedDeviceID: targets}
}

// Answer replies to an offer.
func Answer(sd webrtc.SessionDescription) Message {
	return Message{Answer: &sd}
}

// Candidate carries one trickled ICE candidate.
func Candidate(c webrtc.ICECandidateInit) Message {
	return Message{Candidate: &c}
}
