// Package grpcserver exposes the account service over gRPC and the shared
// auth and logging interceptors.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/service"
)

// AccountServiceName is the fully qualified gRPC service name.
const AccountServiceName = "safechat.account.v1.Account"

// AccountServer is the handler set behind AccountServiceName.
type AccountServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PublishKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPushToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type accountFn func(AccountServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func accountMethod(name string, fn accountFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return fn(srv.(AccountServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AccountServiceName + "/" + name}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(AccountServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var accountDesc = grpc.ServiceDesc{
	ServiceName: AccountServiceName,
	HandlerType: (*AccountServer)(nil),
	Methods: []grpc.MethodDesc{
		accountMethod("Register", AccountServer.Register),
		accountMethod("Login", AccountServer.Login),
		accountMethod("PublishKey", AccountServer.PublishKey),
		accountMethod("SetPushToken", AccountServer.SetPushToken),
	},
	Metadata: "safechat/account/v1/account.proto",
}

// RegisterAccountServer registers srv on gs.
func RegisterAccountServer(gs grpc.ServiceRegistrar, srv AccountServer) {
	gs.RegisterService(&accountDesc, srv)
}

// Server wires the account service into gRPC handlers.
type Server struct {
	auth    service.AuthService
	signKey []byte
}

var _ AccountServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, signKey []byte) *Server {
	return &Server{auth: auth, signKey: signKey}
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, password := str(req, "username"), str(req, "password")
	if username == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	userID, err := s.auth.Register(ctx, username, password)
	if err != nil {
		return nil, toStatus(err, "register")
	}
	return structpb.NewStruct(map[string]any{"userId": userID})
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tok, u, err := s.auth.LoginWithIP(ctx, str(req, "username"), str(req, "password"), peerAddr(ctx))
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "bad credentials")
		}
		return nil, toStatus(err, "login")
	}
	return structpb.NewStruct(map[string]any{
		"accessToken": tok.AccessToken,
		"expiresAt":   tok.ExpiresAt.UTC().Format(time.RFC3339),
		"userId":      u.ID,
		"publicKey":   u.PublicKey,
	})
}

// PublishKey stores the caller's public key once.
func (s *Server) PublishKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := authenticate(ctx, s.signKey)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	pub := str(req, "publicKey")
	if pub == "" {
		return nil, status.Error(codes.InvalidArgument, "empty publicKey")
	}
	if err := s.auth.PublishKey(ctx, userID, pub); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, status.Error(codes.FailedPrecondition, "public key already published")
		}
		return nil, toStatus(err, "publish key")
	}
	return &structpb.Struct{}, nil
}

// SetPushToken stores the caller's push token.
func (s *Server) SetPushToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := authenticate(ctx, s.signKey)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if err := s.auth.SetPushToken(ctx, userID, str(req, "token")); err != nil {
		return nil, toStatus(err, "set push token")
	}
	return &structpb.Struct{}, nil
}

func toStatus(err error, op string) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Errorf(codes.AlreadyExists, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, op)
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
