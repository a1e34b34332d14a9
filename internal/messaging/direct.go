package messaging

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/hybrid"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/push"
	"github.com/and161185/safechat/internal/repository"
)

// SendText encrypts text for recipientID and stores it.
func (s *Service) SendText(ctx context.Context, recipientID, text string) (*model.DirectMessage, error) {
	u, pub, err := s.recipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return s.sendDirect(ctx, u, pub, model.Text(text))
}

// SendFile encrypts data under a fresh key, uploads the ciphertext and sends
// the resulting reference to recipientID. Nothing is written if the upload
// fails.
func (s *Service) SendFile(ctx context.Context, recipientID string, data []byte, name string, ft model.FileType) (*model.DirectMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", errs.ErrInvalidArgument)
	}
	if ft != model.FileImage && ft != model.FileDocument {
		return nil, fmt.Errorf("%w: file type %q", errs.ErrInvalidArgument, ft)
	}
	u, pub, err := s.recipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	ct, key, err := sealAttachment(data)
	if err != nil {
		return nil, err
	}
	defer clientcrypto.Wipe(key)

	url, err := s.upload(ctx, ct)
	if err != nil {
		return nil, err
	}
	return s.sendDirect(ctx, u, pub, model.File(AttachmentURL(url, key), name, ft))
}

func (s *Service) sendDirect(ctx context.Context, to *model.User, pub keys.PublicKey, c model.Content) (*model.DirectMessage, error) {
	sealed, err := hybrid.SealContent(c, pub, s.echoKey)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	m := &model.DirectMessage{
		ID:             id,
		ConversationID: model.ConversationID(s.me.UserID, to.ID),
		SenderID:       s.me.UserID,
		RecipientID:    to.ID,
		CreatedAt:      s.now(),
	}
	sealed.Apply(m)
	if err := repository.CheckRecord(m); err != nil {
		return nil, err
	}
	if err := s.repos.Direct.InsertDirect(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if s.repos.Typing != nil {
		if err := s.SetTyping(ctx, to.ID, false); err != nil {
			s.log.Debug("clear typing", zap.Error(err))
		}
	}
	s.notify(ctx, to, push.DirectMessage(s.me.UserID, s.me.Username, to.ID, to.Username, c.Kind == model.ContentFile))
	return m, nil
}
