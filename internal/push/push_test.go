package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const bobToken = "ExponentPushToken[bob]"

type wireMessage struct {
	To    []string          `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound"`
	Data  map[string]string `json:"data"`
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	type request struct {
		path string
		msgs []wireMessage
	}
	recv := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msgs []wireMessage
		if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&msgs) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		recv <- request{path: r.URL.Path, msgs: msgs}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"x"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/--/api/v2/push/send", srv.Client(), zaptest.NewLogger(t))
	n := DirectMessage("alice", "Alice", "bob", "Bob", false)
	require.NoError(t, c.Send(context.Background(), bobToken, n))

	got := <-recv
	require.Equal(t, "/--/api/v2/push/send", got.path)
	require.Len(t, got.msgs, 1)
	require.Equal(t, []string{bobToken}, got.msgs[0].To)
	require.Equal(t, "New message sent to you.", got.msgs[0].Title)
	require.Equal(t, "default", got.msgs[0].Sound)
	require.Equal(t, "ChatScreen", got.msgs[0].Data["screen"])
	require.Equal(t, "bob", got.msgs[0].Data["recipientId"])
}

func TestSplitEndpoint(t *testing.T) {
	t.Parallel()

	host, api := splitEndpoint(DefaultEndpoint)
	require.Equal(t, expo.DefaultHost, host)
	require.Equal(t, expo.DefaultBaseAPIURL, api)

	host, api = splitEndpoint("http://127.0.0.1:9000/gw/push/send/")
	require.Equal(t, "http://127.0.0.1:9000", host)
	require.Equal(t, "/gw", api)

	host, api = splitEndpoint("https://push.example.com")
	require.Equal(t, "https://push.example.com", host)
	require.Equal(t, expo.DefaultBaseAPIURL, api)
}

func gateway(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SendFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := gateway(t, http.StatusOK,
		`{"data":[{"status":"error","message":"DeviceNotRegistered","details":{"error":"DeviceNotRegistered"}}]}`)
	err := NewClient(srv.URL, srv.Client(), nil).Send(ctx, bobToken, IncomingCall("a", "Alice"))
	require.ErrorContains(t, err, "DeviceNotRegistered")

	srv = gateway(t, http.StatusBadGateway, "")
	require.Error(t, NewClient(srv.URL, srv.Client(), nil).Send(ctx, bobToken, IncomingCall("a", "Alice")))

	hits := 0
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer counting.Close()
	c := NewClient(counting.URL, counting.Client(), nil)
	require.NoError(t, c.Send(ctx, "", IncomingCall("a", "Alice")), "no token, no request")
	require.Error(t, c.Send(ctx, "not-a-token", IncomingCall("a", "Alice")))
	require.Zero(t, hits)

	srv = gateway(t, http.StatusOK, "")
	c = NewClient(srv.URL, srv.Client(), nil)
	srv.Close()
	require.Error(t, c.Send(ctx, bobToken, IncomingCall("a", "Alice")))
}

func TestNotifications_NoContent(t *testing.T) {
	t.Parallel()

	n := DirectMessage("a", "A", "b", "B", true)
	require.Equal(t, "Attachment sent to you.", n.Body)

	g := GroupMessage("g1", "team", "a", false)
	require.Equal(t, "New messages in team", g.Title)
	require.Equal(t, "GroupChatScreen", g.Data["screen"])
	require.Equal(t, "g1", g.Data["groupId"])

	c := IncomingCall("a", "Alice")
	require.Equal(t, "Incoming Video Call", c.Title)
	require.Equal(t, "videocall", c.Data["type"])
}
