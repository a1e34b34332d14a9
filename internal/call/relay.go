package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/errs"
)

// Transport is an opaque byte pipe to the other participant.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// JSONRelay adapts a Transport to a Relay by encoding Signals as JSON.
// Malformed payloads are logged and dropped.
type JSONRelay struct {
	tr     Transport
	log    *zap.Logger
	out    chan Signal
	cancel context.CancelFunc
	once   sync.Once
}

// NewJSONRelay starts reading from tr.
func NewJSONRelay(tr Transport, log *zap.Logger) *JSONRelay {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &JSONRelay{tr: tr, log: log, out: make(chan Signal, 64), cancel: cancel}
	go r.readLoop(ctx)
	return r
}

func (r *JSONRelay) readLoop(ctx context.Context) {
	defer close(r.out)
	for {
		b, err := r.tr.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Info("relay closed", zap.Error(err))
			}
			return
		}
		sig, err := DecodeSignal(b)
		if err != nil {
			r.log.Warn("dropping relay payload", zap.Error(err))
			continue
		}
		select {
		case r.out <- sig:
		case <-ctx.Done():
			return
		}
	}
}

// Send encodes and transmits s.
func (r *JSONRelay) Send(ctx context.Context, s Signal) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	if err := r.tr.Send(ctx, b); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSignaling, err)
	}
	return nil
}

// Signals delivers decoded signals until the transport ends.
func (r *JSONRelay) Signals() <-chan Signal { return r.out }

// Close stops reading and closes the transport.
func (r *JSONRelay) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		err = r.tr.Close()
	})
	return err
}

// ErrRelayClosed is returned when sending on a closed memory relay.
var ErrRelayClosed = errors.New("relay closed")

// MemoryRelay is one end of an in-process relay pair. Signals go through
// the JSON codec so both ends see exactly what the wire would carry.
type MemoryRelay struct {
	pair *memoryPair
	in   chan Signal
	peer *MemoryRelay
}

type memoryPair struct {
	mu     sync.Mutex
	closed bool
}

// NewMemoryPair returns two connected relay ends.
func NewMemoryPair() (*MemoryRelay, *MemoryRelay) {
	p := &memoryPair{}
	a := &MemoryRelay{pair: p, in: make(chan Signal, 256)}
	b := &MemoryRelay{pair: p, in: make(chan Signal, 256)}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers s to the other end, dropping it if that end is backed up.
func (m *MemoryRelay) Send(_ context.Context, s Signal) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	decoded, err := DecodeSignal(b)
	if err != nil {
		return err
	}
	m.pair.mu.Lock()
	defer m.pair.mu.Unlock()
	if m.pair.closed {
		return fmt.Errorf("%w: %v", errs.ErrSignaling, ErrRelayClosed)
	}
	select {
	case m.peer.in <- decoded:
	default:
	}
	return nil
}

// Signals delivers signals sent by the other end.
func (m *MemoryRelay) Signals() <-chan Signal { return m.in }

// Close disconnects both ends.
func (m *MemoryRelay) Close() error {
	m.pair.mu.Lock()
	defer m.pair.mu.Unlock()
	if m.pair.closed {
		return nil
	}
	m.pair.closed = true
	close(m.in)
	close(m.peer.in)
	return nil
}
