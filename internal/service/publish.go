package service

import (
	"context"
	"fmt"

	lexutil "github.com/bluesky-social/indigo/lex/util"
	"go.uber.org/zap"

	"skylift/internal/config"
	"skylift/internal/service/bluesky"
	"skylift/internal/storage"
)

// Publisher publishes one stored post to the external network.
type Publisher interface {
	Publish(ctx context.Context, postID uint) error
}

// CredentialSource yields the decrypted publishing credential.
type CredentialSource interface {
	Load(ctx context.Context) (handle, password string, err error)
}

// RemoteSession is one authenticated conversation with the social API.
type RemoteSession interface {
	Authenticate(ctx context.Context, identifier, password string) error
	UploadBlob(ctx context.Context, data []byte) (*lexutil.LexBlob, error)
	CreatePost(ctx context.Context, text string, blobs []*lexutil.LexBlob) (string, error)
}

// SessionFactory builds a fresh session per publish attempt; the adapter
// keeps no session state between calls.
type SessionFactory func() RemoteSession

type BlueskyPublisher struct {
	store      PostStore
	creds      CredentialSource
	objects    storage.Store
	newSession SessionFactory
	logger     *zap.Logger
}

func NewBlueskyPublisher(cfg *config.BlueskyConfig, store PostStore, creds CredentialSource, objects storage.Store, logger *zap.Logger) *BlueskyPublisher {
	return &BlueskyPublisher{
		store:   store,
		creds:   creds,
		objects: objects,
		newSession: func() RemoteSession {
			return bluesky.NewClient(cfg.Host, logger)
		},
		logger: logger,
	}
}

// Publish uploads the post's images as blobs in their stored order and
// creates one remote post referencing them. It deliberately does not mark
// the post as posted; the scheduler owns that transition.
func (p *BlueskyPublisher) Publish(ctx context.Context, postID uint) error {
	post, err := p.store.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("cannot publish post %d: %w", postID, err)
	}

	handle, password, err := p.creds.Load(ctx)
	if err != nil {
		return publishErr(PublishErrCredential, err)
	}

	sess := p.newSession()
	if err := sess.Authenticate(ctx, handle, password); err != nil {
		return publishErr(PublishErrRemoteAuth, err)
	}

	blobs := make([]*lexutil.LexBlob, 0, len(post.Images))
	for _, img := range post.Images {
		key, ok := p.objects.KeyFor(img.ImageURI)
		if !ok {
			return publishErr(PublishErrAsset, fmt.Errorf("image %q is not in the configured store", img.ImageURI))
		}
		data, err := p.objects.Fetch(ctx, key)
		if err != nil {
			return publishErr(PublishErrAsset, fmt.Errorf("failed to read image %s: %w", key, err))
		}
		blob, err := sess.UploadBlob(ctx, data)
		if err != nil {
			return publishErr(PublishErrRemoteAPI, err)
		}
		blobs = append(blobs, blob)
	}

	uri, err := sess.CreatePost(ctx, post.Title, blobs)
	if err != nil {
		return publishErr(PublishErrRemoteAPI, err)
	}

	p.logger.Info("Post published",
		zap.Uint("post_id", postID),
		zap.Int("images", len(blobs)),
		zap.String("uri", uri))
	return nil
}
