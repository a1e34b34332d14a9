package call

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/and161185/safechat/internal/errs"
)

// Relay event types.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
	SignalToggleCamera = "toggle-camera"
)

// Signal is one relay message.
type Signal struct {
	Type        string                     `json:"type"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	IsCameraOn  *bool                      `json:"isCameraOn,omitempty"`
}

// Encode serializes s to its JSON wire form.
func (s Signal) Encode() ([]byte, error) { return json.Marshal(s) }

// DecodeSignal parses and validates a relay payload.
func DecodeSignal(b []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(b, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: malformed signal: %v", errs.ErrSignaling, err)
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// Validate checks that the payload required by the type is present.
func (s Signal) Validate() error {
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.Description == nil || s.Description.SDP == "" {
			return fmt.Errorf("%w: %s without description", errs.ErrSignaling, s.Type)
		}
		want := webrtc.SDPTypeOffer
		if s.Type == SignalAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if s.Description.Type != want {
			return fmt.Errorf("%w: %s carries %s description", errs.ErrSignaling, s.Type, s.Description.Type)
		}
	case SignalICECandidate:
		if s.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", errs.ErrSignaling)
		}
	case SignalToggleCamera:
		if s.IsCameraOn == nil {
			return fmt.Errorf("%w: toggle-camera without state", errs.ErrSignaling)
		}
	default:
		return fmt.Errorf("%w: unknown signal %q", errs.ErrSignaling, s.Type)
	}
	return nil
}

func offerSignal(d webrtc.SessionDescription) Signal {
	return Signal{Type: SignalOffer, Description: &d}
}

func answerSignal(d webrtc.SessionDescription) Signal {
	return Signal{Type: SignalAnswer, Description: &d}
}

func candidateSignal(c webrtc.ICECandidateInit) Signal {
	return Signal{Type: SignalICECandidate, Candidate: &c}
}

func cameraSignal(on bool) Signal {
	return Signal{Type: SignalToggleCamera, IsCameraOn: &on}
}
