package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
)

type fakeAuth struct {
	id        string
	loginErr  error
	published map[string]string
	pushToken string
}

func (f *fakeAuth) Register(_ context.Context, username, _ string) (string, error) {
	if username == "taken" {
		return "", errs.ErrAlreadyExists
	}
	return f.id, nil
}
func (f *fakeAuth) LoginWithIP(context.Context, string, string, string) (model.Tokens, model.User, error) {
	if f.loginErr != nil {
		return model.Tokens{}, model.User{}, f.loginErr
	}
	return model.Tokens{AccessToken: "dummy", ExpiresAt: time.Now().Add(time.Minute)}, model.User{ID: f.id, PublicKey: "age1pub"}, nil
}
func (f *fakeAuth) PublishKey(_ context.Context, userID, publicKey string) error {
	if f.published == nil {
		f.published = map[string]string{}
	}
	if _, ok := f.published[userID]; ok {
		return errs.ErrAlreadyExists
	}
	f.published[userID] = publicKey
	return nil
}
func (f *fakeAuth) SetPushToken(_ context.Context, _, token string) error {
	if token == "" {
		return errs.ErrInvalidArgument
	}
	f.pushToken = token
	return nil
}

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv AccountServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	log := zaptest.NewLogger(t)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)))
	RegisterAccountServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	//nolint:staticcheck // DialContext is supported through 1.x
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc
}

func TestServer_E2E_AccountFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	signKey := []byte("test-secret")
	a := &fakeAuth{id: uuid.Must(uuid.NewV4()).String()}
	cl := NewAccountClient(startBufGRPC(t, New(a, signKey)))

	id, err := cl.Register(ctx, "u", "p")
	require.NoError(t, err)
	require.Equal(t, a.id, id)

	_, err = cl.Register(ctx, "taken", "p")
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = cl.Register(ctx, "", "p")
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	sess, err := cl.Login(ctx, "u", "p")
	require.NoError(t, err)
	require.Equal(t, "dummy", sess.AccessToken)
	require.Equal(t, a.id, sess.UserID)
	require.Equal(t, "age1pub", sess.PublicKey)
	require.True(t, sess.ExpiresAt.After(time.Now().Add(-time.Second)))

	token := jwtFor(t, a.id, signKey, time.Minute)
	require.NoError(t, cl.PublishKey(ctx, token, "age1xyz"))
	require.Equal(t, "age1xyz", a.published[a.id])

	err = cl.PublishKey(ctx, token, "age1other")
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	err = cl.PublishKey(ctx, "bad", "age1xyz")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	require.NoError(t, cl.SetPushToken(ctx, token, "ExponentPushToken[x]"))
	require.Equal(t, "ExponentPushToken[x]", a.pushToken)
	err = cl.SetPushToken(ctx, token, "")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_LoginErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code codes.Code
	}{
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{errors.New("db down"), codes.Internal},
	}
	for _, tt := range tests {
		s := New(&fakeAuth{loginErr: tt.err}, []byte("k"))
		req, _ := structpb.NewStruct(map[string]any{"username": "u", "password": "p"})
		_, err := s.Login(context.Background(), req)
		require.Equal(t, tt.code, status.Code(err), "for %v", tt.err)
	}
}

func TestServer_Unauthenticated(t *testing.T) {
	t.Parallel()

	s := New(&fakeAuth{}, []byte("k"))
	_, err := s.PublishKey(context.Background(), &structpb.Struct{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = s.SetPushToken(context.Background(), &structpb.Struct{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_PublishKey_Empty(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	s := New(&fakeAuth{}, key)
	ctx := ctxAuth(jwtFor(t, uuid.Must(uuid.NewV4()).String(), key, time.Hour))
	_, err := s.PublishKey(ctx, &structpb.Struct{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func Test_toStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, codes.NotFound, status.Code(toStatus(errs.ErrNotFound, "x")))
	require.Equal(t, codes.InvalidArgument, status.Code(toStatus(errs.ErrInvalidArgument, "x")))
	require.Equal(t, codes.AlreadyExists, status.Code(toStatus(errs.ErrAlreadyExists, "x")))
	require.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"), "x")))
}

type loopbackAddr struct{}

func (loopbackAddr) Network() string { return "tcp" }
func (loopbackAddr) String() string  { return "127.0.0.1:5555" }

func Test_peerAddr(t *testing.T) {
	t.Parallel()
	if got := peerAddr(context.Background()); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
	pctx := peer.NewContext(context.Background(), &peer.Peer{Addr: loopbackAddr{}})
	if got := peerAddr(pctx); got != "127.0.0.1:5555" {
		t.Fatalf("got %q", got)
	}
}
