package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

func signJWT(t *testing.T, key []byte, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func window(sub string, nbf time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(nbf),
		NotBefore: jwt.NewNumericDate(nbf),
		ExpiresAt: jwt.NewNumericDate(nbf.Add(ttl)),
	}
}

func jwtFor(t *testing.T, sub string, key []byte, ttl time.Duration) string {
	t.Helper()
	return signJWT(t, key, jwt.SigningMethodHS256, window(sub, time.Now().UTC().Add(-5*time.Second), ttl+5*time.Second))
}

func ctxAuth(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+token))
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	sub := uuid.Must(uuid.NewV4()).String()
	now := time.Now().UTC()

	tests := []struct {
		name string
		tok  string
		ok   bool
	}{
		{"valid", signJWT(t, key, jwt.SigningMethodHS256, window(sub, now.Add(-time.Minute), 10*time.Minute)), true},
		{"small clock skew", signJWT(t, key, jwt.SigningMethodHS256, window(sub, now.Add(-time.Second), 2*time.Second)), true},
		{"expired", signJWT(t, key, jwt.SigningMethodHS256, window(sub, now.Add(-2*time.Hour), time.Hour)), false},
		{"not before in future", signJWT(t, key, jwt.SigningMethodHS256, window(sub, now.Add(10*time.Minute), time.Hour)), false},
		{"bad subject", signJWT(t, key, jwt.SigningMethodHS256, window("not-a-uuid", now, time.Hour)), false},
		{"wrong alg", signJWT(t, key, jwt.SigningMethodHS384, window(sub, now, time.Hour)), false},
		{"wrong key", signJWT(t, []byte("other"), jwt.SigningMethodHS256, window(sub, now, time.Hour)), false},
		{"garbage", "this-is-not-a-jwt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToken(key, tt.tok)
			if tt.ok {
				if err != nil || got != sub {
					t.Fatalf("got=%q err=%v", got, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("want error")
			}
		})
	}
}

func Test_bearerTokenFromMD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"bearer", []string{"Bearer abc.def.ghi"}, "abc.def.ghi"},
		{"case and spaces", []string{"Basic foo", "  bearer   tok.part.sig   "}, "tok.part.sig"},
		{"basic only", []string{"Basic foo"}, ""},
		{"empty token", []string{"Bearer   "}, ""},
		{"no bearer among many", []string{"Basic a", "Digest b"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := metadata.New(nil)
			md.Append("authorization", tt.values...)
			got, err := bearerTokenFromMD(metadata.NewIncomingContext(context.Background(), md))
			if tt.want == "" {
				if err == nil {
					t.Fatalf("want error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got=%q err=%v", got, err)
			}
		})
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func Test_authenticate(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	sub := uuid.Must(uuid.NewV4()).String()
	got, err := authenticate(ctxAuth(jwtFor(t, sub, key, time.Hour)), key)
	if err != nil || got != sub {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := authenticate(context.Background(), key); err == nil {
		t.Fatalf("want error without metadata")
	}
}
