package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds the STUN/TURN servers used during candidate gathering.
type ICEConfig struct {
	Servers []webrtc.ICEServer
	// IncludeLoopback adds loopback candidates, needed when both parties
	// run on the same host.
	IncludeLoopback bool
}

// NewPionFactory returns a PeerFactory backed by pion/webrtc.
func NewPionFactory(cfg ICEConfig) PeerFactory {
	return func() (Peer, error) {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
		se := webrtc.SettingEngine{}
		se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

		api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.Servers})
		if err != nil {
			return nil, err
		}
		return &pionPeer{pc: pc}, nil
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *pionPeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) AddTrack(t LocalTrack) (Sender, error) {
	snd, err := p.pc.AddTrack(t.Track())
	if err != nil {
		return nil, err
	}
	// RTCP has to be read for interceptors to make progress.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := snd.Read(buf); err != nil {
				return
			}
		}
	}()
	return &pionSender{snd: snd, kind: t.Kind()}, nil
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
		fn(&pionRemote{track: t, recv: r})
	})
}

func (p *pionPeer) Close() error { return p.pc.Close() }

type pionSender struct {
	snd  *webrtc.RTPSender
	kind webrtc.RTPCodecType
}

func (s *pionSender) Kind() webrtc.RTPCodecType { return s.kind }

func (s *pionSender) ReplaceTrack(t LocalTrack) error { return s.snd.ReplaceTrack(t.Track()) }

type pionRemote struct {
	track *webrtc.TrackRemote
	recv  *webrtc.RTPReceiver
}

func (r *pionRemote) Kind() webrtc.RTPCodecType { return r.track.Kind() }

func (r *pionRemote) Stop() error { return r.recv.Stop() }
