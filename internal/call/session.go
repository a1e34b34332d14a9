package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/errs"
)

const sendTimeout = 5 * time.Second

// Session owns one call: the peer connection, its local and remote tracks
// and the ICE buffer. Every transition happens under mu; a second call
// attempt cannot interleave with the first.
type Session struct {
	relay   Relay
	newPeer PeerFactory
	media   MediaSource
	log     *zap.Logger
	onState func(State)

	mu             sync.Mutex
	state          State
	peer           Peer
	senders        []Sender
	local          []LocalTrack
	remote         []RemoteTrack
	pending        []webrtc.ICECandidateInit
	hasRemote      bool
	facing         Facing
	cameraOn       bool
	micOn          bool
	remoteCameraOn bool

	closed atomic.Bool // mirrors state == Closed for media stack callbacks
	done   chan struct{}
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

// WithStateHook registers fn to observe every state change. It runs under
// the session lock and must not call back into the Session.
func WithStateHook(fn func(State)) Option { return func(s *Session) { s.onState = fn } }

// NewSession creates an Idle session.
func NewSession(relay Relay, newPeer PeerFactory, media MediaSource, opts ...Option) *Session {
	s := &Session{
		relay:          relay,
		newPeer:        newPeer,
		media:          media,
		log:            zap.NewNop(),
		state:          Idle,
		cameraOn:       true,
		micOn:          true,
		remoteCameraOn: true,
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// RemoteCameraOn reports the last camera state announced by the other party.
func (s *Session) RemoteCameraOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteCameraOn
}

// LocalTracks returns the current local tracks.
func (s *Session) LocalTracks() []LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LocalTrack(nil), s.local...)
}

// RemoteTracks returns the tracks received so far.
func (s *Session) RemoteTracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteTrack(nil), s.remote...)
}

// PendingCandidates returns how many remote candidates wait for a peer.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Info("call state", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}

// StartLocalMedia acquires audio and video. It is only allowed while Idle;
// a repeated call in Idle replaces the previous tracks. On failure the
// session stays Idle and the error matches ErrMediaAcquisition.
func (s *Session) StartLocalMedia(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("%w: start media while %s", errs.ErrInvalidState, s.state)
	}
	tracks, err := s.media.Acquire(ctx, Constraints{Audio: true, Video: true, Facing: s.facing})
	if err != nil {
		if errors.Is(err, errs.ErrMediaAcquisition) {
			return err
		}
		return fmt.Errorf("%w: %v", errs.ErrMediaAcquisition, err)
	}
	stopAll(s.local)
	s.local = tracks
	s.cameraOn, s.micOn = true, true
	return nil
}

// CreateOffer starts negotiation as the caller.
func (s *Session) CreateOffer(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: offer while %s", errs.ErrInvalidState, st)
	}
	if err := s.ensurePeerLocked(); err != nil {
		s.mu.Unlock()
		return s.abort(err)
	}
	offer, err := s.peer.CreateOffer()
	if err != nil {
		s.mu.Unlock()
		return s.abort(fmt.Errorf("%w: create offer: %v", errs.ErrSignaling, err))
	}
	s.setState(Offering)
	s.mu.Unlock()

	if err := s.send(ctx, offerSignal(offer)); err != nil {
		return s.abort(err)
	}
	return nil
}

// HandleSignal applies one relay message. Errors that abort the call have
// already forced the session to Closed when returned.
func (s *Session) HandleSignal(ctx context.Context, sig Signal) error {
	if err := sig.Validate(); err != nil {
		if sig.Type == SignalOffer || sig.Type == SignalAnswer {
			return s.abort(err)
		}
		s.log.Warn("dropping invalid signal", zap.String("type", sig.Type), zap.Error(err))
		return nil
	}
	switch sig.Type {
	case SignalOffer:
		return s.handleOffer(ctx, *sig.Description)
	case SignalAnswer:
		return s.handleAnswer(*sig.Description)
	case SignalICECandidate:
		s.handleCandidate(*sig.Candidate)
	case SignalToggleCamera:
		s.mu.Lock()
		s.remoteCameraOn = *sig.IsCameraOn
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) handleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state != Idle {
		st := s.state
		s.mu.Unlock()
		s.log.Warn("ignoring offer", zap.Stringer("state", st))
		return nil
	}
	if err := s.ensurePeerLocked(); err != nil {
		s.mu.Unlock()
		return s.abort(err)
	}
	if err := s.peer.SetRemoteDescription(offer); err != nil {
		s.mu.Unlock()
		return s.abort(fmt.Errorf("%w: remote offer: %v", errs.ErrSignaling, err))
	}
	s.hasRemote = true
	s.flushPendingLocked()
	answer, err := s.peer.CreateAnswer()
	if err != nil {
		s.mu.Unlock()
		return s.abort(fmt.Errorf("%w: create answer: %v", errs.ErrSignaling, err))
	}
	s.setState(Answering)
	s.mu.Unlock()

	if err := s.send(ctx, answerSignal(answer)); err != nil {
		return s.abort(err)
	}
	return nil
}

func (s *Session) handleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state != Offering {
		st := s.state
		s.mu.Unlock()
		s.log.Warn("ignoring answer", zap.Stringer("state", st))
		return nil
	}
	if err := s.peer.SetRemoteDescription(answer); err != nil {
		s.mu.Unlock()
		return s.abort(fmt.Errorf("%w: remote answer: %v", errs.ErrSignaling, err))
	}
	s.hasRemote = true
	s.flushPendingLocked()
	s.setState(Connected)
	s.mu.Unlock()
	return nil
}

// handleCandidate applies c now if a peer with a remote description exists,
// otherwise queues it in arrival order.
func (s *Session) handleCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if s.peer == nil || !s.hasRemote {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.peer.AddICECandidate(c); err != nil {
		s.log.Warn("ice candidate rejected", zap.Error(err))
	}
}

func (s *Session) flushPendingLocked() {
	for _, c := range s.pending {
		if err := s.peer.AddICECandidate(c); err != nil {
			s.log.Warn("buffered ice candidate rejected", zap.Error(err))
		}
	}
	s.pending = nil
}

// ensurePeerLocked creates the peer connection, attaches local tracks and
// wires the media stack callbacks.
func (s *Session) ensurePeerLocked() error {
	if s.peer != nil {
		return nil
	}
	p, err := s.newPeer()
	if err != nil {
		return fmt.Errorf("%w: peer connection: %v", errs.ErrSignaling, err)
	}
	for _, t := range s.local {
		snd, err := p.AddTrack(t)
		if err != nil {
			_ = p.Close()
			return fmt.Errorf("%w: add %s track: %v", errs.ErrSignaling, t.Kind(), err)
		}
		s.senders = append(s.senders, snd)
	}
	p.OnICECandidate(s.onLocalCandidate)
	p.OnConnectionStateChange(s.onConnectionState)
	p.OnTrack(s.onRemoteTrack)
	s.peer = p
	return nil
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	if s.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.relay.Send(ctx, candidateSignal(c)); err != nil {
		s.log.Warn("sending ice candidate", zap.Error(err))
	}
}

func (s *Session) onConnectionState(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.state.Negotiating() {
			s.setState(Connected)
		}
		s.mu.Unlock()
	case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed:
		s.log.Info("peer connection ended", zap.Stringer("peer_state", st))
		s.EndCall()
	}
}

func (s *Session) onRemoteTrack(t RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		_ = t.Stop()
		return
	}
	s.remote = append(s.remote, t)
}

// EndCall forces Closed and tears everything down. Safe from any state and
// more than once.
func (s *Session) EndCall() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.setState(Closed)
	s.closed.Store(true)
	local, remote, peer := s.local, s.remote, s.peer
	s.local, s.remote, s.peer, s.senders, s.pending = nil, nil, nil, nil, nil
	s.mu.Unlock()

	stopAll(local)
	for _, t := range remote {
		_ = t.Stop()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			s.log.Warn("closing peer", zap.Error(err))
		}
	}
	if err := s.relay.Close(); err != nil {
		s.log.Debug("closing relay", zap.Error(err))
	}
	close(s.done)
}

// ToggleCamera enables or disables local video and tells the other party.
func (s *Session) ToggleCamera(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: call closed", errs.ErrInvalidState)
	}
	s.cameraOn = !s.cameraOn
	on := s.cameraOn
	for _, t := range s.local {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			t.SetEnabled(on)
		}
	}
	s.mu.Unlock()
	return on, s.send(ctx, cameraSignal(on))
}

// ToggleMicrophone enables or disables local audio.
func (s *Session) ToggleMicrophone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micOn = !s.micOn
	for _, t := range s.local {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			t.SetEnabled(s.micOn)
		}
	}
	return s.micOn
}

// SwitchCamera replaces the local video track with one from the other
// camera. The outgoing sender is updated in place; no offer/answer cycle.
// The current track keeps running until its replacement is attached.
func (s *Session) SwitchCamera(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return fmt.Errorf("%w: call closed", errs.ErrInvalidState)
	}
	idx := -1
	for i, t := range s.local {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: no local video", errs.ErrInvalidState)
	}

	facing := s.facing.Other()
	tracks, err := s.media.Acquire(ctx, Constraints{Video: true, Facing: facing})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrMediaAcquisition, err)
	}
	var next LocalTrack
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo && next == nil {
			next = t
		} else {
			_ = t.Stop()
		}
	}
	if next == nil {
		return fmt.Errorf("%w: no video track from source", errs.ErrMediaAcquisition)
	}
	next.SetEnabled(s.cameraOn)

	for _, snd := range s.senders {
		if snd.Kind() == webrtc.RTPCodecTypeVideo {
			if err := snd.ReplaceTrack(next); err != nil {
				_ = next.Stop()
				return fmt.Errorf("replace video track: %w", err)
			}
		}
	}
	if err := s.local[idx].Stop(); err != nil {
		s.log.Debug("stopping video track", zap.Error(err))
	}
	s.local[idx] = next
	s.facing = facing
	return nil
}

// Run applies relay signals until the call closes or ctx is done. A relay
// that goes away mid-call closes the session. Start it after
// StartLocalMedia: an offer that is already waiting is answered with
// whatever tracks exist at that moment.
func (s *Session) Run(ctx context.Context) error {
	sigs := s.relay.Signals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case sig, ok := <-sigs:
			if !ok {
				s.EndCall()
				return nil
			}
			if err := s.HandleSignal(ctx, sig); err != nil {
				s.log.Warn("signal failed", zap.String("type", sig.Type), zap.Error(err))
				if s.State() == Closed {
					return err
				}
			}
		}
	}
}

func (s *Session) send(ctx context.Context, sig Signal) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.relay.Send(ctx, sig); err != nil {
		if errors.Is(err, errs.ErrSignaling) {
			return err
		}
		return fmt.Errorf("%w: send %s: %v", errs.ErrSignaling, sig.Type, err)
	}
	return nil
}

// abort closes the call and returns err.
func (s *Session) abort(err error) error {
	s.EndCall()
	return err
}

func stopAll(tracks []LocalTrack) {
	for _, t := range tracks {
		_ = t.Stop()
	}
}
