package model

import (
	"errors"
	"time"
)

// DirectMessage is a stored one-to-one message. Only ciphertext, wrapped keys
// and the sealed echo reach the document store.
type DirectMessage struct {
	ID              string
	ConversationID  string
	SenderID        string
	RecipientID     string
	CreatedAt       time.Time
	CipherText      []byte   // sealed text, empty for files
	WrappedKey      []byte   // message key wrapped for the recipient
	PlainEcho       []byte   // sender-only echo, sealed under the sender's local echo key
	File            []byte   // sealed file URL, empty for text
	FileType        FileType // plaintext attachment kind
	WrappedFileName []byte   // sealed file name, optional
}

// Validate enforces the record invariants: exactly one of CipherText/File
// carries payload and WrappedKey is present.
func (m DirectMessage) Validate() error {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return errors.New("missing identifiers")
	}
	hasText, hasFile := len(m.CipherText) > 0, len(m.File) > 0
	if hasText == hasFile {
		return errors.New("exactly one of cipher text or file must be set")
	}
	if len(m.WrappedKey) == 0 {
		return errors.New("missing wrapped key")
	}
	if hasFile && m.FileType == "" {
		return errors.New("file without type")
	}
	return nil
}

// Group is a fixed-membership group conversation.
type Group struct {
	ID            string
	Name          string
	Participants  []string
	PhotoURL      string
	EncryptedKeys map[string][]byte // userID -> group key wrapped for that user
	CreatedAt     time.Time
}

// Validate enforces one wrapped key per participant.
func (g Group) Validate() error {
	if g.ID == "" || g.Name == "" {
		return errors.New("missing id/name")
	}
	if len(g.Participants) == 0 {
		return errors.New("no participants")
	}
	if len(g.EncryptedKeys) != len(g.Participants) {
		return errors.New("wrapped key count does not match participants")
	}
	for _, p := range g.Participants {
		if len(g.EncryptedKeys[p]) == 0 {
			return errors.New("participant without wrapped key: " + p)
		}
	}
	return nil
}

// HasMember reports whether userID participates in the group.
func (g Group) HasMember(userID string) bool {
	for _, p := range g.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// GroupMessage is a stored group message sealed under the group key.
type GroupMessage struct {
	ID              string
	GroupID         string
	SenderID        string
	CreatedAt       time.Time
	CipherText      []byte
	File            []byte
	FileType        FileType
	WrappedFileName []byte
}

// Validate enforces exactly one payload.
func (m GroupMessage) Validate() error {
	if m.ID == "" || m.GroupID == "" || m.SenderID == "" {
		return errors.New("missing identifiers")
	}
	if (len(m.CipherText) > 0) == (len(m.File) > 0) {
		return errors.New("exactly one of cipher text or file must be set")
	}
	return nil
}

// DisplayMessage is a decrypted message ready for presentation. Err is set
// when the message could not be decrypted; Content is then empty.
type DisplayMessage struct {
	ID        string
	SenderID  string
	CreatedAt time.Time
	Content   Content
	Err       error
}
