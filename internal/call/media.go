package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/and161185/safechat/internal/errs"
)

const (
	audioInterval = 20 * time.Millisecond
	videoInterval = 33 * time.Millisecond
	streamID      = "safechat"
)

// opusSilence is a single Opus DTX silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces Opus silence and placeholder VP8 frames. It
// stands in for a capture device on hosts without one.
type SyntheticSource struct{}

// Acquire creates the requested tracks and starts their sample pumps.
func (SyntheticSource) Acquire(ctx context.Context, c Constraints) ([]LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMediaAcquisition, err)
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: nothing requested", errs.ErrMediaAcquisition)
	}
	var out []LocalTrack
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: audio: %v", errs.ErrMediaAcquisition, err)
		}
		out = append(out, startSampleTrack(t, opusSilence, audioInterval))
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video-"+c.Facing.String(), streamID)
		if err != nil {
			stopAll(out)
			return nil, fmt.Errorf("%w: video: %v", errs.ErrMediaAcquisition, err)
		}
		out = append(out, startSampleTrack(t, make([]byte, 64), videoInterval))
	}
	return out, nil
}

type sampleTrack struct {
	track    *webrtc.TrackLocalStaticSample
	frame    []byte
	interval time.Duration
	enabled  atomic.Bool
	stopped  atomic.Bool
	stop     chan struct{}
	once     sync.Once
}

func startSampleTrack(t *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) *sampleTrack {
	st := &sampleTrack{track: t, frame: frame, interval: interval, stop: make(chan struct{})}
	st.enabled.Store(true)
	go st.pump()
	return st
}

func (t *sampleTrack) pump() {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tick.C:
			if !t.enabled.Load() {
				continue
			}
			if err := t.track.WriteSample(media.Sample{Data: t.frame, Duration: t.interval}); err != nil {
				return
			}
		}
	}
}

func (t *sampleTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }
func (t *sampleTrack) Enabled() bool             { return t.enabled.Load() }
func (t *sampleTrack) SetEnabled(on bool)        { t.enabled.Store(on) }
func (t *sampleTrack) Track() webrtc.TrackLocal  { return t.track }

// Stopped reports whether Stop was called.
func (t *sampleTrack) Stopped() bool { return t.stopped.Load() }

func (t *sampleTrack) Stop() error {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
	})
	return nil
}
