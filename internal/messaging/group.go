package messaging

import (
	"context"
	"fmt"
	"sort"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/groupkey"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/push"
	"github.com/and161185/safechat/internal/repository"
)

// CreateGroup creates a group of the local user and memberIDs with a fresh
// group key wrapped for each participant. photo is optional and is stored
// unencrypted; a failed upload aborts creation.
func (s *Service) CreateGroup(ctx context.Context, name string, memberIDs []string, photo []byte) (*model.Group, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty group name", errs.ErrInvalidArgument)
	}
	seen := map[string]bool{s.me.UserID: true}
	participants := []string{s.me.UserID}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: group needs another member", errs.ErrInvalidArgument)
	}
	sort.Strings(participants)

	pubs := make(map[string]keys.PublicKey, len(participants))
	for _, id := range participants {
		if id == s.me.UserID {
			pubs[id] = s.me.Key.Public()
			continue
		}
		_, pub, err := s.recipient(ctx, id)
		if err != nil {
			return nil, err
		}
		pubs[id] = pub
	}

	key, wrapped, err := groupkey.Create(pubs)
	if err != nil {
		return nil, fmt.Errorf("group key: %w", err)
	}
	clientcrypto.Wipe(key)

	var photoURL string
	if len(photo) > 0 {
		url, err := s.upload(ctx, photo)
		if err != nil {
			return nil, err
		}
		photoURL = url
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	g := &model.Group{
		ID:            id,
		Name:          name,
		Participants:  participants,
		PhotoURL:      photoURL,
		EncryptedKeys: wrapped,
		CreatedAt:     s.now(),
	}
	if err := repository.CheckRecord(g); err != nil {
		return nil, err
	}
	if err := s.repos.Groups.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// SendGroupText seals text under the group key and stores it.
func (s *Service) SendGroupText(ctx context.Context, groupID, text string) (*model.GroupMessage, error) {
	g, err := s.memberOf(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.sendGroup(ctx, g, model.Text(text))
}

// SendGroupFile uploads an encrypted attachment and posts it to the group.
func (s *Service) SendGroupFile(ctx context.Context, groupID string, data []byte, name string, ft model.FileType) (*model.GroupMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", errs.ErrInvalidArgument)
	}
	if ft != model.FileImage && ft != model.FileDocument {
		return nil, fmt.Errorf("%w: file type %q", errs.ErrInvalidArgument, ft)
	}
	g, err := s.memberOf(ctx, groupID)
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
	return s.sendGroup(ctx, g, model.File(AttachmentURL(url, key), name, ft))
}

func (s *Service) memberOf(ctx context.Context, groupID string) (*model.Group, error) {
	g, err := s.repos.Groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, err)
	}
	if !g.HasMember(s.me.UserID) {
		return nil, fmt.Errorf("%w: not a member of %s", errs.ErrUnauthorized, groupID)
	}
	return g, nil
}

func (s *Service) sendGroup(ctx context.Context, g *model.Group, c model.Content) (*model.GroupMessage, error) {
	key, err := s.groupKeys.Key(*g, s.me.UserID)
	if err != nil {
		return nil, err
	}
	sealed, err := groupkey.Seal(key, c)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	m := &model.GroupMessage{ID: id, GroupID: g.ID, SenderID: s.me.UserID, CreatedAt: s.now()}
	sealed.Apply(m)
	if err := repository.CheckRecord(m); err != nil {
		return nil, err
	}
	if err := s.repos.Groups.InsertGroupMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("insert group message: %w", err)
	}

	n := push.GroupMessage(g.ID, g.Name, s.me.UserID, c.Kind == model.ContentFile)
	for _, p := range g.Participants {
		if p == s.me.UserID {
			continue
		}
		u, err := s.repos.Users.GetByID(ctx, p)
		if err != nil {
			continue
		}
		s.notify(ctx, u, n)
	}
	return m, nil
}
