package negotiation

// SignalingState mirrors the offer/answer state of the peer connection.
type SignalingState int

const (
	StateStable SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s SignalingState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
