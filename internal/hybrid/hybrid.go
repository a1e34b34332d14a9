// Package hybrid implements one-to-one message confidentiality: a fresh
// symmetric key per message, AEAD over the payload and the key wrapped for
// the recipient's public key.
package hybrid

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
)

// Field subkey labels. One message key covers every field of a message.
var (
	infoBody     = []byte("body")
	infoFile     = []byte("file")
	infoFileName = []byte("file-name")
	aadEcho      = []byte("echo")
)

// EncryptForRecipient seals plaintext under a fresh key and wraps that key
// for pub. The key is wiped before returning.
func EncryptForRecipient(plaintext []byte, pub keys.PublicKey) (cipherText, wrappedKey []byte, err error) {
	key, err := clientcrypto.NewKey()
	if err != nil {
		return nil, nil, err
	}
	defer clientcrypto.Wipe(key)

	cipherText, err = sealField(key, infoBody, plaintext)
	if err != nil {
		return nil, nil, err
	}
	wrappedKey, err = keys.Wrap(key, pub)
	if err != nil {
		return nil, nil, err
	}
	return cipherText, wrappedKey, nil
}

// DecryptAsRecipient unwraps the message key and opens cipherText.
func DecryptAsRecipient(cipherText, wrappedKey []byte, priv *keys.PrivateKey) ([]byte, error) {
	key, err := keys.Unwrap(wrappedKey, priv)
	if err != nil {
		return nil, err
	}
	defer clientcrypto.Wipe(key)
	return openField(key, infoBody, cipherText)
}

// Sealed holds the encrypted fields of a direct message.
type Sealed struct {
	CipherText      []byte
	WrappedKey      []byte
	File            []byte
	FileType        model.FileType
	WrappedFileName []byte
	PlainEcho       []byte
}

// SealContent encrypts text or a file reference for pub with one fresh key.
// Attachments get their own key like text does. When echoKey is set the
// sender's copy is sealed into PlainEcho.
func SealContent(c model.Content, pub keys.PublicKey, echoKey []byte) (Sealed, error) {
	if err := c.Validate(); err != nil {
		return Sealed{}, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	key, err := clientcrypto.NewKey()
	if err != nil {
		return Sealed{}, err
	}
	defer clientcrypto.Wipe(key)

	var s Sealed
	switch c.Kind {
	case model.ContentText:
		if s.CipherText, err = sealField(key, infoBody, []byte(c.Text)); err != nil {
			return Sealed{}, err
		}
	case model.ContentFile:
		if s.File, err = sealField(key, infoFile, []byte(c.FileURL)); err != nil {
			return Sealed{}, err
		}
		if c.FileName != "" {
			if s.WrappedFileName, err = sealField(key, infoFileName, []byte(c.FileName)); err != nil {
				return Sealed{}, err
			}
		}
		s.FileType = c.FileType
	}
	if s.WrappedKey, err = keys.Wrap(key, pub); err != nil {
		return Sealed{}, err
	}
	if echoKey != nil {
		if s.PlainEcho, err = SealEcho(c, echoKey); err != nil {
			return Sealed{}, err
		}
	}
	return s, nil
}

// OpenContent reverses SealContent with the recipient's private key.
func OpenContent(s Sealed, priv *keys.PrivateKey) (model.Content, error) {
	key, err := keys.Unwrap(s.WrappedKey, priv)
	if err != nil {
		return model.Content{}, err
	}
	defer clientcrypto.Wipe(key)

	if len(s.CipherText) > 0 {
		pt, err := openField(key, infoBody, s.CipherText)
		if err != nil {
			return model.Content{}, err
		}
		return model.Text(string(pt)), nil
	}
	if len(s.File) == 0 {
		return model.Content{}, errs.Decrypting(errors.New("no payload"))
	}
	url, err := openField(key, infoFile, s.File)
	if err != nil {
		return model.Content{}, err
	}
	var name []byte
	if len(s.WrappedFileName) > 0 {
		if name, err = openField(key, infoFileName, s.WrappedFileName); err != nil {
			return model.Content{}, err
		}
	}
	return model.File(string(url), string(name), s.FileType), nil
}

// SealEcho seals the sender's own copy of c under the local echo key.
func SealEcho(c model.Content, echoKey []byte) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return clientcrypto.Seal(echoKey, b, aadEcho)
}

// OpenEcho recovers the sender's own copy without any asymmetric operation.
func OpenEcho(echo, echoKey []byte) (model.Content, error) {
	b, err := clientcrypto.Open(echoKey, echo, aadEcho)
	if err != nil {
		return model.Content{}, errs.Decrypting(err)
	}
	var c model.Content
	if err := json.Unmarshal(b, &c); err != nil {
		return model.Content{}, errs.Decrypting(err)
	}
	return c, nil
}

func sealField(key, info, plaintext []byte) ([]byte, error) {
	sub, err := clientcrypto.DeriveSubkey(key, info)
	if err != nil {
		return nil, err
	}
	defer clientcrypto.Wipe(sub)
	return clientcrypto.Seal(sub, plaintext, info)
}

func openField(key, info, blob []byte) ([]byte, error) {
	sub, err := clientcrypto.DeriveSubkey(key, info)
	if err != nil {
		return nil, errs.Decrypting(err)
	}
	defer clientcrypto.Wipe(sub)
	pt, err := clientcrypto.Open(sub, blob, info)
	if err != nil {
		return nil, errs.Decrypting(err)
	}
	return pt, nil
}
