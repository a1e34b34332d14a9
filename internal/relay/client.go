package relay

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcserver "github.com/and161185/safechat/internal/server/grpc"
)

// Client is one end of a relay room. It implements call.Transport.
type Client struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	sendMu sync.Mutex
	once   sync.Once
}

// Dial opens a relay stream for roomID authenticated with token.
func Dial(ctx context.Context, cc grpc.ClientConnInterface, roomID, token string) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	ctx = metadata.AppendToOutgoingContext(grpcserver.WithBearer(ctx, token), RoomHeader, roomID)
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], connectMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Client{stream: stream, cancel: cancel}, nil
}

// Send transmits one payload.
func (c *Client) Send(_ context.Context, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(wrapperspb.Bytes(payload))
}

// Recv blocks for the next payload. It fails once the room ends or Close
// is called.
func (c *Client) Recv(_ context.Context) ([]byte, error) {
	in := new(wrapperspb.BytesValue)
	if err := c.stream.RecvMsg(in); err != nil {
		return nil, err
	}
	return in.GetValue(), nil
}

// Close ends the stream.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()
		c.cancel()
	})
	return nil
}
