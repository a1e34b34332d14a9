package messaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/and161185/safechat/internal/blob"
	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
)

// The attachment key rides in the URL fragment, which HTTP clients never
// send. The URL itself only travels sealed inside a message.
const keyFragment = "#k="

var aadAttachment = []byte("attachment")

// sealAttachment encrypts data under a fresh key.
func sealAttachment(data []byte) (ct, key []byte, err error) {
	key, err = clientcrypto.NewKey()
	if err != nil {
		return nil, nil, err
	}
	ct, err = clientcrypto.Seal(key, data, aadAttachment)
	if err != nil {
		return nil, nil, err
	}
	return ct, key, nil
}

// AttachmentURL appends key to a blob URL.
func AttachmentURL(url string, key []byte) string {
	return url + keyFragment + base64.RawURLEncoding.EncodeToString(key)
}

// SplitAttachmentURL separates the blob URL from its key.
func SplitAttachmentURL(fileURL string) (string, []byte, error) {
	url, enc, ok := strings.Cut(fileURL, keyFragment)
	if !ok || url == "" {
		return "", nil, fmt.Errorf("%w: attachment url without key", errs.ErrInvalidArgument)
	}
	key, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil || len(key) != clientcrypto.KeyLen {
		return "", nil, fmt.Errorf("%w: malformed attachment key", errs.ErrInvalidArgument)
	}
	return url, key, nil
}

// FetchAttachment downloads and decrypts the file behind a decrypted
// message's FileURL.
func FetchAttachment(ctx context.Context, dl blob.Downloader, fileURL string) ([]byte, error) {
	url, key, err := SplitAttachmentURL(fileURL)
	if err != nil {
		return nil, err
	}
	defer clientcrypto.Wipe(key)

	ct, err := dl.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	pt, err := clientcrypto.Open(key, ct, aadAttachment)
	if err != nil {
		return nil, errs.Decrypting(err)
	}
	return pt, nil
}
