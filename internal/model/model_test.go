package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationID_OrderIndependent(t *testing.T) {
	t.Parallel()

	require.Equal(t, "alice_bob", ConversationID("bob", "alice"))
	require.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))

	a, b, ok := ConversationMembers("alice_bob")
	require.True(t, ok)
	require.Equal(t, "alice", a)
	require.Equal(t, "bob", b)

	_, _, ok = ConversationMembers("alice")
	require.False(t, ok)
	_, _, ok = ConversationMembers("a_b_c")
	require.False(t, ok)
}

func TestContent_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Text("hi").Validate())
	require.NoError(t, File("https://b/1", "a.pdf", FileDocument).Validate())
	require.Error(t, Text("").Validate())
	require.Error(t, File("", "a", FileImage).Validate())
	require.Error(t, File("u", "a", "video").Validate())
	require.Error(t, Content{}.Validate())
}

func TestDirectMessage_Validate(t *testing.T) {
	t.Parallel()

	m := DirectMessage{ID: "1", ConversationID: "a_b", SenderID: "a", CipherText: []byte{1}, WrappedKey: []byte{2}}
	require.NoError(t, m.Validate())

	both := m
	both.File = []byte{3}
	both.FileType = FileImage
	require.Error(t, both.Validate())

	noKey := m
	noKey.WrappedKey = nil
	require.Error(t, noKey.Validate())

	file := m
	file.CipherText = nil
	file.File = []byte{3}
	require.Error(t, file.Validate(), "file needs a type")
	file.FileType = FileImage
	require.NoError(t, file.Validate())
}

func TestGroup_Validate(t *testing.T) {
	t.Parallel()

	g := Group{
		ID: "g", Name: "team", Participants: []string{"a", "b"},
		EncryptedKeys: map[string][]byte{"a": {1}, "b": {2}},
	}
	require.NoError(t, g.Validate())
	require.True(t, g.HasMember("a"))
	require.False(t, g.HasMember("c"))

	g.EncryptedKeys = map[string][]byte{"a": {1}, "c": {2}}
	require.Error(t, g.Validate())
}
