package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/safechat/internal/blob"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/push"
	"github.com/and161185/safechat/internal/repository/memory"
	"github.com/and161185/safechat/internal/timeline"
)

type fakeBlobs struct {
	mu   sync.Mutex
	fail error
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{data: make(map[string][]byte)} }

func (f *fakeBlobs) Upload(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	url := fmt.Sprintf("mem://blobs/%d", len(f.data)+1)
	f.data[url] = append([]byte(nil), data...)
	return url, nil
}

func (f *fakeBlobs) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[url]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return b, nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

type sentPush struct {
	token string
	n     push.Notification
}

type recPush struct {
	mu   sync.Mutex
	err  error
	sent []sentPush
}

func (r *recPush) Send(_ context.Context, token string, n push.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentPush{token, n})
	return r.err
}

func (r *recPush) all() []sentPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentPush(nil), r.sent...)
}

type party struct {
	user model.User
	key  *keys.PrivateKey
}

var clock = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newParty(t *testing.T, st *memory.Store, id string, published bool) party {
	t.Helper()
	k, err := keys.Generate()
	require.NoError(t, err)
	u := model.User{ID: id, Username: strings.ToUpper(id[:1]) + id[1:], PushToken: "push-" + id}
	if published {
		u.PublicKey = k.Public().String()
	}
	require.NoError(t, st.Create(context.Background(), &u))
	return party{user: u, key: k}
}

func repos(st *memory.Store) Repos {
	return Repos{Users: st, Direct: st, Groups: st, Typing: st, Calls: st}
}

func newService(t *testing.T, st *memory.Store, p party, blobs blob.Uploader, ps push.Sender) *Service {
	t.Helper()
	s, err := New(Me{UserID: p.user.ID, Username: p.user.Username, Key: p.key}, repos(st), blobs, ps, zaptest.NewLogger(t),
		WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	return s
}

func openAs(t *testing.T, p party, m model.DirectMessage) model.Content {
	t.Helper()
	sy, err := timeline.New(p.user.ID, p.key, nil)
	require.NoError(t, err)
	c, err := sy.OpenDirect(m)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Me{UserID: "alice"}, Repos{}, nil, nil, nil)
	require.ErrorIs(t, err, errs.ErrKeyUnavailable)

	_, err = New(Me{}, Repos{}, nil, nil, nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSendText_Hello(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	bob := newParty(t, st, "bob", true)
	ps := &recPush{}
	svc := newService(t, st, alice, nil, ps)

	require.NoError(t, svc.SetTyping(ctx, bob.user.ID, true))
	m, err := svc.SendText(ctx, bob.user.ID, "hello")
	require.NoError(t, err)
	require.Equal(t, "alice_bob", m.ConversationID)
	require.Equal(t, clock, m.CreatedAt)
	require.False(t, bytes.Contains(m.CipherText, []byte("hello")))
	require.NotEmpty(t, m.PlainEcho)

	stored, err := st.ListDirect(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	require.Equal(t, model.Text("hello"), openAs(t, bob, stored[0]))
	require.Equal(t, model.Text("hello"), openAs(t, alice, stored[0]))

	ts, err := st.GetTyping(ctx, "alice_bob")
	require.NoError(t, err)
	require.Empty(t, ts.TypingUserID, "sending clears typing")

	sent := ps.all()
	require.Len(t, sent, 1)
	require.Equal(t, "push-bob", sent[0].token)
	require.Equal(t, "alice", sent[0].n.Data["userId"])
	require.NotContains(t, sent[0].n.Body, "hello")
}

func TestSendText_NothingWrittenOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	newParty(t, st, "bob", false)
	newParty(t, st, "carol", true)
	ps := &recPush{}
	svc := newService(t, st, alice, nil, ps)

	_, err := svc.SendText(ctx, "bob", "hello")
	require.ErrorIs(t, err, errs.ErrInvalidState, "recipient without a key")

	_, err = svc.SendText(ctx, "nobody", "hello")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.SendText(ctx, "carol", "")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	for _, conv := range []string{"alice_bob", "alice_carol"} {
		msgs, err := st.ListDirect(ctx, conv)
		require.NoError(t, err)
		require.Empty(t, msgs, conv)
	}
	require.Empty(t, ps.all())
}

func TestSendText_PushFailureIsBestEffort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	newParty(t, st, "bob", true)
	svc := newService(t, st, alice, nil, &recPush{err: errors.New("gateway down")})

	_, err := svc.SendText(ctx, "bob", "still stored")
	require.NoError(t, err)
	msgs, err := st.ListDirect(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSendFile_EncryptedAttachment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	bob := newParty(t, st, "bob", true)
	blobs := newFakeBlobs()
	ps := &recPush{}
	svc := newService(t, st, alice, blobs, ps)

	data := []byte("%PDF-1.7 quarterly report")
	m, err := svc.SendFile(ctx, bob.user.ID, data, "report.pdf", model.FileDocument)
	require.NoError(t, err)
	require.Empty(t, m.CipherText)
	require.Equal(t, model.FileDocument, m.FileType)

	c := openAs(t, bob, *m)
	require.Equal(t, model.ContentFile, c.Kind)
	require.Equal(t, "report.pdf", c.FileName)
	require.Contains(t, c.FileURL, "#k=")

	url, _, err := SplitAttachmentURL(c.FileURL)
	require.NoError(t, err)
	stored, err := blobs.Download(ctx, url)
	require.NoError(t, err)
	require.False(t, bytes.Contains(stored, data), "blob store holds ciphertext")

	got, err := FetchAttachment(ctx, blobs, c.FileURL)
	require.NoError(t, err)
	require.Equal(t, data, got)

	sent := ps.all()
	require.Len(t, sent, 1)
	require.Equal(t, "Attachment sent to you.", sent[0].n.Body)
}

func TestSendFile_UploadFailureWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	newParty(t, st, "bob", true)
	blobs := newFakeBlobs()
	blobs.fail = errors.New("disk full")
	ps := &recPush{}
	svc := newService(t, st, alice, blobs, ps)

	_, err := svc.SendFile(ctx, "bob", []byte("img"), "a.png", model.FileImage)
	require.ErrorIs(t, err, errs.ErrUpload)

	msgs, err := st.ListDirect(ctx, "alice_bob")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, ps.all())

	noStore := newService(t, st, alice, nil, ps)
	_, err = noStore.SendFile(ctx, "bob", []byte("img"), "a.png", model.FileImage)
	require.ErrorIs(t, err, errs.ErrUpload)
}

func TestSendFile_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	newParty(t, st, "bob", true)
	blobs := newFakeBlobs()
	svc := newService(t, st, alice, blobs, nil)

	_, err := svc.SendFile(ctx, "bob", nil, "a.png", model.FileImage)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = svc.SendFile(ctx, "bob", []byte("x"), "a.mov", "video")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	require.Zero(t, blobs.count())
}

func TestSendFile_OverBlobServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := blob.NewDirStore(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(nil)
	base := "http://" + srv.Listener.Addr().String()
	srv.Config.Handler = blob.NewHandler(store, base, 1<<20, zaptest.NewLogger(t))
	srv.Start()
	t.Cleanup(srv.Close)
	client := blob.NewClient(base, srv.Client())

	st := memory.New()
	alice := newParty(t, st, "alice", true)
	bob := newParty(t, st, "bob", true)
	svc := newService(t, st, alice, client, nil)

	img := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 64)
	m, err := svc.SendFile(ctx, bob.user.ID, img, "cat.png", model.FileImage)
	require.NoError(t, err)

	c := openAs(t, bob, *m)
	require.True(t, strings.HasPrefix(c.FileURL, base+"/blobs/"))
	got, err := FetchAttachment(ctx, client, c.FileURL)
	require.NoError(t, err)
	require.Equal(t, img, got)
}

func TestSplitAttachmentURL(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{7}, 32)
	url, got, err := SplitAttachmentURL(AttachmentURL("https://b/blobs/1", key))
	require.NoError(t, err)
	require.Equal(t, "https://b/blobs/1", url)
	require.Equal(t, key, got)

	for _, bad := range []string{
		"https://b/blobs/1",
		"#k=" + strings.Repeat("A", 43),
		"https://b/blobs/1#k=***",
		"https://b/blobs/1#k=AAAA",
	} {
		_, _, err := SplitAttachmentURL(bad)
		require.ErrorIs(t, err, errs.ErrInvalidArgument, bad)
	}
}

func TestFetchAttachment_WrongKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := newFakeBlobs()

	ct, _, err := sealAttachment([]byte("secret"))
	require.NoError(t, err)
	url, err := blobs.Upload(ctx, ct)
	require.NoError(t, err)

	_, err = FetchAttachment(ctx, blobs, AttachmentURL(url, bytes.Repeat([]byte{1}, 32)))
	require.ErrorIs(t, err, errs.ErrDecryption)

	_, err = FetchAttachment(ctx, blobs, AttachmentURL("mem://missing", bytes.Repeat([]byte{1}, 32)))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSetTyping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	alice := newParty(t, st, "alice", true)
	svc := newService(t, st, alice, nil, nil)

	require.NoError(t, svc.SetTyping(ctx, "bob", true))
	ts, err := st.GetTyping(ctx, "alice_bob")
	require.NoError(t, err)
	require.Equal(t, "alice", ts.TypingUserID)
	require.Equal(t, clock, ts.LastTypedAt)

	require.NoError(t, svc.SetTyping(ctx, "bob", false))
	ts, err = st.GetTyping(ctx, "alice_bob")
	require.NoError(t, err)
	require.Empty(t, ts.TypingUserID)

	require.ErrorIs(t, svc.SetTyping(ctx, "", true), errs.ErrInvalidArgument)
}
