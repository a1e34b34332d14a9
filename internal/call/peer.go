package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Peer is the media stack's peer connection as the Session drives it.
type Peer interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(LocalTrack) (Sender, error)
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack))
	Close() error
}

// PeerFactory creates a fresh Peer for a session.
type PeerFactory func() (Peer, error)

// Sender is the outgoing side of one track on a Peer.
type Sender interface {
	Kind() webrtc.RTPCodecType
	// ReplaceTrack swaps the outgoing track in place without renegotiation.
	ReplaceTrack(LocalTrack) error
}

// LocalTrack is a captured audio or video track.
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(bool)
	Stop() error
	// Track is what gets attached to the peer connection.
	Track() webrtc.TrackLocal
}

// RemoteTrack is a track received from the other party.
type RemoteTrack interface {
	Kind() webrtc.RTPCodecType
	Stop() error
}

// Constraints select what to capture.
type Constraints struct {
	Audio  bool
	Video  bool
	Facing Facing
}

// MediaSource acquires local capture tracks.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) ([]LocalTrack, error)
}

// Relay carries signals to and from the other participant. Delivery is
// fire-and-forget. Signals closes when the relay is gone.
type Relay interface {
	Send(ctx context.Context, s Signal) error
	Signals() <-chan Signal
	Close() error
}
