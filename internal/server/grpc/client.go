package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AccountClient calls the account service.
type AccountClient struct {
	cc grpc.ClientConnInterface
}

// NewAccountClient wraps a client connection.
func NewAccountClient(cc grpc.ClientConnInterface) *AccountClient {
	return &AccountClient{cc: cc}
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	UserID      string
	PublicKey   string
}

func (c *AccountClient) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AccountServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register creates an account and returns its id.
func (c *AccountClient) Register(ctx context.Context, username, password string) (string, error) {
	out, err := c.call(ctx, "Register", map[string]any{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	return str(out, "userId"), nil
}

// Login exchanges credentials for an access token.
func (c *AccountClient) Login(ctx context.Context, username, password string) (Session, error) {
	out, err := c.call(ctx, "Login", map[string]any{"username": username, "password": password})
	if err != nil {
		return Session{}, err
	}
	exp, _ := time.Parse(time.RFC3339, str(out, "expiresAt"))
	return Session{
		AccessToken: str(out, "accessToken"),
		ExpiresAt:   exp,
		UserID:      str(out, "userId"),
		PublicKey:   str(out, "publicKey"),
	}, nil
}

// PublishKey publishes the caller's public key.
func (c *AccountClient) PublishKey(ctx context.Context, token, publicKey string) error {
	_, err := c.call(WithBearer(ctx, token), "PublishKey", map[string]any{"publicKey": publicKey})
	return err
}

// SetPushToken stores the caller's push token.
func (c *AccountClient) SetPushToken(ctx context.Context, token, pushToken string) error {
	_, err := c.call(WithBearer(ctx, token), "SetPushToken", map[string]any{"token": pushToken})
	return err
}
