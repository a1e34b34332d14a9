package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/blob"
	"github.com/and161185/safechat/internal/call"
	"github.com/and161185/safechat/internal/config"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/messaging"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/relay"
	"github.com/and161185/safechat/internal/repository"
	grpcserver "github.com/and161185/safechat/internal/server/grpc"
	"github.com/and161185/safechat/internal/timeline"
)

// rpcTimeout bounds one-shot account calls.
const rpcTimeout = 30 * time.Second

func need(ok bool, msg string) {
	if !ok {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

// resolve maps a username to a user id.
func resolve(ctx context.Context, users repository.UserRepository, username string) *model.User {
	u, err := users.GetByUsername(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		fail(fmt.Errorf("unknown user %q", username))
	}
	if err != nil {
		fail(err)
	}
	return u
}

func (a *app) cmdRegister(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	_ = fs.Parse(args)
	need(*u != "" && *p != "", "need -u and -p")

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	cc, err := a.dial()
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	id, err := grpcserver.NewAccountClient(cc).Register(ctx, *u, *p)
	if err != nil {
		fail(err)
	}
	fmt.Println(id)
}

func (a *app) cmdLogin(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	_ = fs.Parse(args)
	need(*u != "" && *p != "", "need -u and -p")

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	cc, err := a.dial()
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	s, err := grpcserver.NewAccountClient(cc).Login(ctx, *u, *p)
	if err != nil {
		fail(err)
	}
	if err := config.SaveSession(config.SessionPath(), config.Session{
		UserID:      s.UserID,
		Username:    *u,
		AccessToken: s.AccessToken,
		ExpiresAt:   s.ExpiresAt,
	}); err != nil {
		fail(err)
	}
	if s.PublicKey == "" {
		fmt.Println("ok (no key published yet, run \"chat keygen\")")
		return
	}
	fmt.Println("ok")
}

func (a *app) cmdKeygen(ctx context.Context) {
	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	pub, err := a.keyManager().GenerateAndStore(ctx, sess.UserID)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	cc, err := a.dial()
	if err != nil {
		fail(err)
	}
	defer cc.Close()
	if err := grpcserver.NewAccountClient(cc).PublishKey(ctx, sess.AccessToken, pub.String()); err != nil {
		fail(fmt.Errorf("key stored locally but not published: %w", err))
	}
	fmt.Println(pub)
}

func (a *app) cmdWhoami(ctx context.Context) {
	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	id, err := a.keyManager().Identity(ctx, sess.UserID)
	if err != nil {
		fail(err)
	}
	printJSON(map[string]string{
		"user_id":    id.UserID,
		"username":   sess.Username,
		"public_key": id.PublicKey,
		"key_ref":    id.PrivateKeyRef,
	})
}

func (a *app) cmdPushToken(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("push-token", flag.ExitOnError)
	token := fs.String("token", "", "push token")
	_ = fs.Parse(args)
	need(*token != "", "need -token")

	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	cc, err := a.dial()
	if err != nil {
		fail(err)
	}
	defer cc.Close()
	if err := grpcserver.NewAccountClient(cc).SetPushToken(ctx, sess.AccessToken, *token); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

// withMessenger opens the stores and a messaging service for the session.
func (a *app) withMessenger(ctx context.Context, fn func(config.Session, *stores, *messaging.Service)) {
	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	st, err := a.openStores(ctx)
	if err != nil {
		fail(err)
	}
	defer st.Close()
	svc, _ := a.messenger(ctx, st, sess)
	defer svc.Forget()
	fn(sess, st, svc)
}

func (a *app) cmdSend(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "recipient username")
	text := fs.String("text", "", "message")
	_ = fs.Parse(args)
	need(*to != "" && *text != "", "need -to and -text")

	a.withMessenger(ctx, func(_ config.Session, st *stores, svc *messaging.Service) {
		peer := resolve(ctx, st.repos.Users, *to)
		m, err := svc.SendText(ctx, peer.ID, *text)
		if err != nil {
			fail(err)
		}
		fmt.Println(m.ID)
	})
}

func (a *app) cmdSendFile(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("send-file", flag.ExitOnError)
	to := fs.String("to", "", "recipient username")
	path := fs.String("file", "", "file ('-'=stdin)")
	typ := fs.String("type", "", "image|document (default: by extension)")
	_ = fs.Parse(args)
	need(*to != "" && *path != "", "need -to and -file")

	data, err := readAll(*path)
	if err != nil {
		fail(err)
	}
	name, ft := attachmentMeta(*path, *typ)

	a.withMessenger(ctx, func(_ config.Session, st *stores, svc *messaging.Service) {
		peer := resolve(ctx, st.repos.Users, *to)
		m, err := svc.SendFile(ctx, peer.ID, data, name, ft)
		if err != nil {
			fail(err)
		}
		fmt.Println(m.ID)
	})
}

func (a *app) cmdFetch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	url := fs.String("url", "", "file url as shown by watch")
	out := fs.String("out", "-", "output path ('-'=stdout)")
	_ = fs.Parse(args)
	need(*url != "", "need -url")

	data, err := messaging.FetchAttachment(ctx, blob.NewClient(a.cfg.BlobURL, nil), *url)
	if err != nil {
		fail(err)
	}
	if *out == "-" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		fail(err)
	}
}

func (a *app) cmdGroupCreate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("group-create", flag.ExitOnError)
	name := fs.String("name", "", "group name")
	members := fs.String("members", "", "comma separated usernames")
	photoPath := fs.String("photo", "", "group photo (optional)")
	_ = fs.Parse(args)
	need(*name != "" && *members != "", "need -name and -members")

	var photo []byte
	if *photoPath != "" {
		b, err := readAll(*photoPath)
		if err != nil {
			fail(err)
		}
		photo = b
	}

	a.withMessenger(ctx, func(_ config.Session, st *stores, svc *messaging.Service) {
		var ids []string
		for _, n := range splitList(*members) {
			ids = append(ids, resolve(ctx, st.repos.Users, n).ID)
		}
		g, err := svc.CreateGroup(ctx, *name, ids, photo)
		if err != nil {
			fail(err)
		}
		fmt.Println(g.ID)
	})
}

func (a *app) cmdGroupSend(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("group-send", flag.ExitOnError)
	group := fs.String("group", "", "group id")
	text := fs.String("text", "", "message")
	path := fs.String("file", "", "attachment")
	typ := fs.String("type", "", "image|document (default: by extension)")
	_ = fs.Parse(args)
	need(*group != "" && (*text == "") != (*path == ""), "need -group and one of -text or -file")

	a.withMessenger(ctx, func(_ config.Session, _ *stores, svc *messaging.Service) {
		var (
			m   *model.GroupMessage
			err error
		)
		if *text != "" {
			m, err = svc.SendGroupText(ctx, *group, *text)
		} else {
			data, rerr := readAll(*path)
			if rerr != nil {
				fail(rerr)
			}
			name, ft := attachmentMeta(*path, *typ)
			m, err = svc.SendGroupFile(ctx, *group, data, name, ft)
		}
		if err != nil {
			fail(err)
		}
		fmt.Println(m.ID)
	})
}

func (a *app) cmdGroups(ctx context.Context) {
	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	st, err := a.openStores(ctx)
	if err != nil {
		fail(err)
	}
	defer st.Close()

	groups, err := st.repos.Groups.ListGroups(ctx, sess.UserID)
	if err != nil {
		fail(err)
	}
	priv, err := a.keyManager().LoadPrivateKey(ctx)
	if err != nil && !errors.Is(err, errs.ErrKeyUnavailable) {
		fail(err)
	}
	type row struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Members     []string `json:"members"`
		Photo       string   `json:"photo,omitempty"`
		Fingerprint string   `json:"key_fingerprint,omitempty"`
	}
	rows := []row{}
	for _, g := range groups {
		rows = append(rows, row{ID: g.ID, Name: g.Name, Members: g.Participants, Photo: g.PhotoURL,
			Fingerprint: groupFingerprint(g, sess.UserID, priv)})
	}
	printJSON(rows)
}

func (a *app) cmdWatch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	with := fs.String("with", "", "peer username")
	group := fs.String("group", "", "group id")
	once := fs.Bool("once", false, "print the current messages and exit")
	_ = fs.Parse(args)
	need((*with == "") != (*group == ""), "need one of -with or -group")

	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	st, err := a.openStores(ctx)
	if err != nil {
		fail(err)
	}
	defer st.Close()

	// a missing key still shows the conversation, as placeholders
	priv, err := a.keyManager().LoadPrivateKey(ctx)
	if err != nil && !errors.Is(err, errs.ErrKeyUnavailable) {
		fail(err)
	}
	syncer, err := timeline.New(sess.UserID, priv, a.log)
	if err != nil {
		fail(err)
	}

	names := newNameCache(st.repos.Users)
	var (
		sub  *timeline.Subscription
		peer *model.User
	)
	if *with != "" {
		peer = resolve(ctx, st.repos.Users, *with)
		sub, err = syncer.WatchDirect(ctx, st.repos.Direct, peer.ID)
	} else {
		sub, err = syncer.WatchGroup(ctx, st.repos.Groups, *group)
	}
	if err != nil {
		fail(err)
	}
	defer sub.Cancel()

	show := func(m model.DisplayMessage) {
		fmt.Println(renderMessage(m, names.name(ctx, m.SenderID), m.SenderID == sess.UserID))
	}
	if *once {
		select {
		case <-sub.Views():
		case <-ctx.Done():
		}
		sub.Cancel()
		for _, m := range sub.Latest() {
			show(m)
		}
		return
	}
	if peer != nil && st.repos.Typing != nil {
		go a.watchTyping(ctx, st.repos.Typing, sub, sess.UserID, peer)
	}

	printed := make(map[string]bool)
	for view := range sub.Views() {
		for _, m := range view {
			if printed[m.ID] {
				continue
			}
			printed[m.ID] = true
			show(m)
		}
	}
}

// watchTyping reports the peer's typing status while sub is live.
func (a *app) watchTyping(ctx context.Context, typing repository.TypingRepository, sub *timeline.Subscription, self string, peer *model.User) {
	ch, err := typing.WatchTyping(ctx, model.ConversationID(self, peer.ID))
	if err != nil {
		a.log.Warn("typing watch", zap.Error(err))
		return
	}
	for st := range ch {
		if !sub.Live() {
			return
		}
		if st.TypingUserID == peer.ID {
			fmt.Fprintf(os.Stderr, "%s is typing...\n", peer.Username)
		}
	}
}

func (a *app) cmdTyping(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("typing", flag.ExitOnError)
	to := fs.String("to", "", "peer username")
	stopTyping := fs.Bool("stop", false, "clear typing status")
	_ = fs.Parse(args)
	need(*to != "", "need -to")

	a.withMessenger(ctx, func(_ config.Session, st *stores, svc *messaging.Service) {
		peer := resolve(ctx, st.repos.Users, *to)
		if err := svc.SetTyping(ctx, peer.ID, !*stopTyping); err != nil {
			fail(err)
		}
	})
}

func (a *app) cmdCall(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	to := fs.String("to", "", "peer username")
	answer := fs.Bool("answer", false, "wait for the peer's offer instead of calling")
	limit := fs.Duration("for", 0, "hang up after this long (0 = until interrupted)")
	_ = fs.Parse(args)
	need(*to != "", "need -to")

	a.withMessenger(ctx, func(sess config.Session, st *stores, svc *messaging.Service) {
		peer := resolve(ctx, st.repos.Users, *to)

		cc, err := a.dial()
		if err != nil {
			fail(err)
		}
		defer cc.Close()
		tr, err := relay.Dial(ctx, cc, model.ConversationID(sess.UserID, peer.ID), sess.AccessToken)
		if err != nil {
			fail(fmt.Errorf("%w: %v", errs.ErrSignaling, err))
		}

		cs := call.NewSession(
			call.NewJSONRelay(tr, a.log),
			call.NewPionFactory(call.ICEConfig{Servers: iceServers(a.cfg.ICEServers)}),
			call.SyntheticSource{},
			call.WithLogger(a.log),
			call.WithStateHook(func(s call.State) { fmt.Fprintln(os.Stderr, "call:", s) }),
		)
		defer cs.EndCall()

		// Media first: the relay replays a waiting offer as soon as Run reads.
		if *answer {
			err = cs.StartLocalMedia(ctx)
		} else {
			err = svc.StartCall(ctx, cs, peer.ID)
		}
		if err != nil {
			fail(err)
		}
		runErr := make(chan error, 1)
		go func() { runErr <- cs.Run(ctx) }()
		if !*answer {
			if err := cs.CreateOffer(ctx); err != nil {
				fail(err)
			}
		}

		var deadline <-chan time.Time
		if *limit > 0 {
			deadline = time.After(*limit)
		}
		select {
		case <-ctx.Done():
		case <-deadline:
		case <-cs.Done():
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr, "call ended:", err)
			}
		}
	})
}

func (a *app) cmdCalls(ctx context.Context) {
	sess, err := a.session()
	if err != nil {
		fail(err)
	}
	st, err := a.openStores(ctx)
	if err != nil {
		fail(err)
	}
	defer st.Close()

	logs, err := st.repos.Calls.ListCallLogs(ctx, sess.UserID)
	if err != nil {
		fail(err)
	}
	type row struct {
		Callee    string `json:"callee"`
		StartedAt string `json:"startedAt"`
	}
	rows := []row{}
	for _, l := range logs {
		rows = append(rows, row{Callee: l.CalleeName, StartedAt: l.StartedAt.UTC().Format(time.RFC3339)})
	}
	printJSON(rows)
}

// attachmentMeta derives the display name and kind of a file to send.
func attachmentMeta(path, typ string) (string, model.FileType) {
	name := filepath.Base(path)
	if path == "-" {
		name = "stdin"
	}
	if typ != "" {
		return name, model.FileType(typ)
	}
	return name, fileTypeFor(name)
}
