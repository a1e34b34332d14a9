// Package model defines domain entities shared by services, repositories and the sync layer.
package model

import (
	"sort"
	"strings"
	"time"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User is the account record. PublicKey is globally readable; the private half never leaves the device.
type User struct {
	ID        string
	Username  string
	PublicKey string // age1... recipient, empty until published
	PushToken string // push gateway destination, optional
	PwdHash   []byte // Argon2id(password, SaltAuth)
	SaltAuth  []byte
	CreatedAt time.Time
}

// Identity is the local view of a user's key material.
type Identity struct {
	UserID        string
	PublicKey     string
	PrivateKeyRef string // secure-store name, never transmitted
}

// ConversationID returns the canonical id of a two-party conversation:
// both ids sorted and joined with "_", independent of who initiates.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// ConversationMembers splits a canonical conversation id back into its participants.
func ConversationMembers(conversationID string) (string, string, bool) {
	a, b, ok := strings.Cut(conversationID, "_")
	if !ok || a == "" || b == "" || strings.Contains(b, "_") {
		return "", "", false
	}
	return a, b, true
}

// TypingStatus is overwritten in place on every typing transition.
type TypingStatus struct {
	ConversationID string    `json:"conversationId"`
	TypingUserID   string    `json:"typing"` // empty when nobody is typing
	LastTypedAt    time.Time `json:"lastTyped"`
}

// CallLog records a started call.
type CallLog struct {
	ID         string
	CallerID   string
	CalleeID   string
	CalleeName string
	StartedAt  time.Time
}
