// Package call negotiates direct audio/video sessions between two parties:
// offer/answer/ICE exchange over a signaling relay, local and remote track
// lifecycle, and teardown.
package call

// State is the negotiation state of a Session.
type State int

const (
	Idle State = iota
	Offering
	Answering
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "negotiating/offering"
	case Answering:
		return "negotiating/answering"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether an offer/answer exchange is in progress.
func (s State) Negotiating() bool { return s == Offering || s == Answering }

// Facing selects the camera.
type Facing int

const (
	FacingFront Facing = iota
	FacingBack
)

// Other returns the opposite camera.
func (f Facing) Other() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

func (f Facing) String() string {
	if f == FacingBack {
		return "back"
	}
	return "front"
}
