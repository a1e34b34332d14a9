package call

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	kind webrtc.RTPCodecType
	name string

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newFakeTrack(kind webrtc.RTPCodecType, name string) *fakeTrack {
	return &fakeTrack{kind: kind, name: name, enabled: true}
}

func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Track() webrtc.TrackLocal  { return nil }
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = on
}
func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}
func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeMedia struct {
	mu       sync.Mutex
	fail     error
	acquired []*fakeTrack
}

func (m *fakeMedia) Acquire(_ context.Context, c Constraints) ([]LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []LocalTrack
	if c.Audio {
		t := newFakeTrack(webrtc.RTPCodecTypeAudio, "audio")
		m.acquired = append(m.acquired, t)
		out = append(out, t)
	}
	if c.Video {
		t := newFakeTrack(webrtc.RTPCodecTypeVideo, "video-"+c.Facing.String())
		m.acquired = append(m.acquired, t)
		out = append(out, t)
	}
	return out, nil
}

type fakeSender struct {
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	current LocalTrack
}

func (s *fakeSender) Kind() webrtc.RTPCodecType { return s.kind }
func (s *fakeSender) ReplaceTrack(t LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
	return nil
}
func (s *fakeSender) Current() LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type fakeRemote struct {
	kind    webrtc.RTPCodecType
	mu      sync.Mutex
	stopped bool
}

func (r *fakeRemote) Kind() webrtc.RTPCodecType { return r.kind }
func (r *fakeRemote) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}
func (r *fakeRemote) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// fakePeer behaves like a peer connection as far as ordering goes: ICE
// candidates are rejected until a remote description is set.
type fakePeer struct {
	mu         sync.Mutex
	name       string
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*fakeSender
	closed     bool
	rejectSDP  bool

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(RemoteTrack)
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + p.name}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + p.name}, nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectSDP {
		return errors.New("malformed sdp")
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) AddTrack(t LocalTrack) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{kind: t.Kind(), current: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) emitState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(st)
}

func (p *fakePeer) emitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) emitTrack(t RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

// peerSlot hands out a single fakePeer and remembers it.
type peerSlot struct {
	mu   sync.Mutex
	name string
	peer *fakePeer
	made int
}

func (s *peerSlot) factory() (Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.made++
	s.peer = &fakePeer{name: s.name}
	return s.peer, nil
}

func (s *peerSlot) get() *fakePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func cand(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }
