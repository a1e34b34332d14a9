package relay

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
	grpcserver "github.com/and161185/safechat/internal/server/grpc"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "safechat.relay.v1.Relay"
	// RoomHeader carries the canonical conversation id of the call.
	RoomHeader = "x-relay-room"

	connectMethod = "/" + ServiceName + "/Connect"
)

type connectServer interface {
	Connect(grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*connectServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Connect",
		Handler:       func(srv any, ss grpc.ServerStream) error { return srv.(connectServer).Connect(ss) },
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "safechat/relay/v1/relay.proto",
}

// Server exposes a Hub over gRPC. Each Connect stream is one peer; its
// user id comes from the auth interceptor.
type Server struct {
	hub *Hub
	log *zap.Logger
}

// NewServer wraps hub.
func NewServer(hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{hub: hub, log: log}
}

// Register registers s on gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) { gs.RegisterService(&serviceDesc, s) }

func roomFromMD(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(RoomHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Connect joins the caller to its room and pumps payloads both ways until
// either side goes away.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	userID, ok := grpcserver.UserIDFromCtx(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	roomID := roomFromMD(ctx)
	a, b, ok := model.ConversationMembers(roomID)
	if !ok {
		return status.Error(codes.InvalidArgument, "bad room")
	}
	if userID != a && userID != b {
		return status.Error(codes.PermissionDenied, "not a participant")
	}

	m, err := s.hub.Join(roomID, userID)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return status.Error(codes.AlreadyExists, err.Error())
		}
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer m.Leave()

	recvErr := make(chan error, 1)
	go func() {
		for {
			in := new(wrapperspb.BytesValue)
			if err := stream.RecvMsg(in); err != nil {
				recvErr <- err
				return
			}
			m.Send(in.GetValue())
		}
	}()

	for {
		select {
		case b, ok := <-m.Recv():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(wrapperspb.Bytes(b)); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
