package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/and161185/safechat/internal/config"
	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/groupkey"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/repository"
)

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// tokenExpired treats a zero expiry as unknown and therefore valid.
func tokenExpired(exp, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fileTypeFor guesses the attachment kind from the file extension.
func fileTypeFor(name string) model.FileType {
	if strings.HasPrefix(mime.TypeByExtension(strings.ToLower(filepath.Ext(name))), "image/") {
		return model.FileImage
	}
	return model.FileDocument
}

// renderMessage formats one timeline entry as a single line.
func renderMessage(m model.DisplayMessage, sender string, mine bool) string {
	if mine {
		sender = "me"
	}
	prefix := fmt.Sprintf("[%s] %s:", m.CreatedAt.Local().Format("2006-01-02 15:04"), sender)
	switch {
	case m.Err != nil:
		return prefix + " <unable to decrypt>"
	case m.Content.Kind == model.ContentFile:
		name := m.Content.FileName
		if name == "" {
			name = "attachment"
		}
		return fmt.Sprintf("%s [%s] %s %s", prefix, m.Content.FileType, name, m.Content.FileURL)
	default:
		return prefix + " " + m.Content.Text
	}
}

// groupFingerprint returns the fingerprint of the group key as unwrapped by
// userID, or "" when the key is not available locally.
func groupFingerprint(g model.Group, userID string, priv *keys.PrivateKey) string {
	if priv == nil {
		return ""
	}
	key, err := groupkey.Unwrap(g.EncryptedKeys[userID], priv)
	if err != nil {
		return ""
	}
	defer clientcrypto.Wipe(key)
	fp, err := groupkey.Fingerprint(key)
	if err != nil {
		return ""
	}
	return fp
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// nameCache resolves user ids to usernames for display.
type nameCache struct {
	users repository.UserRepository
	names map[string]string
}

func newNameCache(users repository.UserRepository) *nameCache {
	return &nameCache{users: users, names: make(map[string]string)}
}

func (c *nameCache) name(ctx context.Context, id string) string {
	if n, ok := c.names[id]; ok {
		return n
	}
	n := id
	if u, err := c.users.GetByID(ctx, id); err == nil {
		n = u.Username
	}
	c.names[id] = n
	return n
}
