// Command chat is the safechat CLI client.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/safechat/internal/blob"
	"github.com/and161185/safechat/internal/config"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/messaging"
	"github.com/and161185/safechat/internal/push"
	"github.com/and161185/safechat/internal/repository/postgres"
	redisrepo "github.com/and161185/safechat/internal/repository/redis"
)

// passphraseEnv names the variable holding the keystore passphrase.
const passphraseEnv = "SAFECHAT_PASSPHRASE"

var (
	version   = "dev"
	buildDate = "unknown"
)

// app carries everything a subcommand needs.
type app struct {
	cfg        config.Config
	creds      credentials.TransportCredentials
	passphrase []byte
	log        *zap.Logger
}

func loadTLS(caPath string, skipVerify, plaintext bool) (credentials.TransportCredentials, error) {
	switch {
	case plaintext:
		return insecure.NewCredentials(), nil
	case skipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	case caPath == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func (a *app) dial() (*grpc.ClientConn, error) {
	return grpc.NewClient(a.cfg.RelayAddr, grpc.WithTransportCredentials(a.creds))
}

// session returns the saved login, failing when it has expired.
func (a *app) session() (config.Session, error) {
	s, err := config.LoadSession(config.SessionPath())
	if err != nil {
		return config.Session{}, err
	}
	if tokenExpired(s.ExpiresAt, time.Now()) {
		return config.Session{}, errors.New("session expired, run \"chat login\" again")
	}
	return s, nil
}

func (a *app) keyManager() *keys.Manager {
	if len(a.passphrase) == 0 {
		fail(fmt.Errorf("set %s to unlock the keystore", passphraseEnv))
	}
	return keys.NewManager(keys.NewFileStore(a.cfg.KeystorePath, a.passphrase), a.log)
}

// stores opens the document store and, when configured, the typing store.
type stores struct {
	db    *postgres.DB
	rdb   *redis.Client
	repos messaging.Repos
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	db, err := postgres.New(ctx, a.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	st := &stores{db: db, repos: messaging.Repos{
		Users:  postgres.NewUserRepo(db),
		Direct: postgres.NewMessageRepo(db),
		Groups: postgres.NewGroupRepo(db),
		Calls:  postgres.NewCallLogRepo(db),
	}}
	if a.cfg.RedisAddr != "" {
		st.rdb = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		st.repos.Typing = redisrepo.NewTypingStore(st.rdb)
	}
	return st, nil
}

func (s *stores) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	s.db.Close()
}

// messenger builds a messaging service for the logged-in user.
func (a *app) messenger(ctx context.Context, st *stores, sess config.Session) (*messaging.Service, *keys.PrivateKey) {
	priv, err := a.keyManager().LoadPrivateKey(ctx)
	if err != nil {
		fail(fmt.Errorf("%w (run \"chat keygen\")", err))
	}
	var ps push.Sender = push.Discard{}
	if a.cfg.PushEndpoint != "" {
		ps = push.NewClient(a.cfg.PushEndpoint, nil, a.log)
	}
	var blobs blob.Uploader
	if a.cfg.BlobURL != "" {
		blobs = blob.NewClient(a.cfg.BlobURL, nil)
	}
	svc, err := messaging.New(messaging.Me{UserID: sess.UserID, Username: sess.Username, Key: priv},
		st.repos, blobs, ps, a.log)
	if err != nil {
		fail(err)
	}
	return svc, priv
}

func usage() {
	fmt.Fprintf(os.Stderr, `chat CLI
Usage:
  chat [-config file] [-cacert file | -insecure | -plaintext] [-v] <cmd> [args]

The keystore passphrase is read from $%s.

Commands:
  version
  register    -u <username> -p <password>
  login       -u <username> -p <password>          (saves session)
  keygen                                          (creates and publishes the key pair)
  whoami                                          (local identity and public key)
  push-token  -token <expo token>
  send        -to <username> -text <message>
  send-file   -to <username> -file <path> [-type image|document]
  fetch       -url <file url> -out <path>
  group-create -name <name> -members a,b,c [-photo <path>]
  group-send  -group <id> (-text <message> | -file <path>)
  groups
  watch       (-with <username> | -group <id>) [-once]
  typing      -to <username> [-stop]
  call        -to <username> [-answer] [-for <duration>]
  calls
`, passphraseEnv)
	os.Exit(2)
}

// main dispatches subcommands.
func main() {
	cfgPath := flag.String("config", config.DefaultPath(), "config file")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "connect without TLS (dev)")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err)
	}
	creds, err := loadTLS(*caPath, *skipVerify, *plaintext)
	if err != nil {
		fail(err)
	}
	log := zap.NewNop()
	if *verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			fail(err)
		}
	}
	defer func() { _ = log.Sync() }()

	a := &app{cfg: cfg, creds: creds, passphrase: []byte(os.Getenv(passphraseEnv)), log: log}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "version":
		fmt.Printf("chat %s (%s)\n", version, buildDate)
	case "register":
		a.cmdRegister(ctx, args)
	case "login":
		a.cmdLogin(ctx, args)
	case "keygen":
		a.cmdKeygen(ctx)
	case "whoami":
		a.cmdWhoami(ctx)
	case "push-token":
		a.cmdPushToken(ctx, args)
	case "send":
		a.cmdSend(ctx, args)
	case "send-file":
		a.cmdSendFile(ctx, args)
	case "fetch":
		a.cmdFetch(ctx, args)
	case "group-create":
		a.cmdGroupCreate(ctx, args)
	case "group-send":
		a.cmdGroupSend(ctx, args)
	case "groups":
		a.cmdGroups(ctx)
	case "watch":
		a.cmdWatch(ctx, args)
	case "typing":
		a.cmdTyping(ctx, args)
	case "call":
		a.cmdCall(ctx, args)
	case "calls":
		a.cmdCalls(ctx)
	default:
		usage()
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok && s.Code() != 0 {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	if errors.Is(err, errs.ErrKeyUnavailable) {
		fmt.Fprintln(os.Stderr, "no private key on this device:", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
