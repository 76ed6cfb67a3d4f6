// Package bluesky wraps the indigo XRPC client with the three operations
// publishing needs: session creation, blob upload and post-record creation.
package bluesky

import (
	"bytes"
	"context"
	"fmt"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"go.uber.org/zap"
)

// MaxImages is the attachment limit the app.bsky.embed.images lexicon allows.
const MaxImages = 4

type Client struct {
	client *xrpc.Client
	logger *zap.Logger
}

// NewClient returns an unauthenticated client against the given PDS host.
// Call Authenticate before uploading or posting.
func NewClient(host string, logger *zap.Logger) *Client {
	return &Client{
		client: &xrpc.Client{Host: host},
		logger: logger,
	}
}

// Authenticate creates a session with the PDS using the handle and app
// password and keeps the resulting tokens on the client.
func (c *Client) Authenticate(ctx context.Context, identifier, appPassword string) error {
	sess, err := comatproto.ServerCreateSession(ctx, c.client, &comatproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   appPassword,
	})
	if err != nil {
		return fmt.Errorf("bluesky authentication failed: %w", err)
	}

	c.client.Auth = &xrpc.AuthInfo{
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
		Handle:     sess.Handle,
		Did:        sess.Did,
	}

	c.logger.Info("Bluesky session created",
		zap.String("handle", sess.Handle),
		zap.String("did", sess.Did))
	return nil
}

func (c *Client) checkAuth() error {
	if c.client.Auth == nil || c.client.Auth.Did == "" {
		return fmt.Errorf("bluesky client not authenticated")
	}
	return nil
}

// UploadBlob uploads media bytes and returns the blob reference to embed.
func (c *Client) UploadBlob(ctx context.Context, data []byte) (*lexutil.LexBlob, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	resp, err := comatproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to upload blob: %w", err)
	}

	c.logger.Debug("Blob uploaded",
		zap.Int("size", len(data)),
		zap.String("cid", resp.Blob.Ref.String()))
	return resp.Blob, nil
}

// CreatePost creates one app.bsky.feed.post record with the given text and
// image blobs, in order. Returns the AT URI of the new record.
func (c *Client) CreatePost(ctx context.Context, text string, blobs []*lexutil.LexBlob) (string, error) {
	if err := c.checkAuth(); err != nil {
		return "", err
	}

	var embed *appbsky.FeedPost_Embed
	if len(blobs) > 0 {
		if len(blobs) > MaxImages {
			blobs = blobs[:MaxImages]
		}
		images := make([]*appbsky.EmbedImages_Image, 0, len(blobs))
		for _, blob := range blobs {
			images = append(images, &appbsky.EmbedImages_Image{
				Alt:   "Image",
				Image: blob,
			})
		}
		embed = &appbsky.FeedPost_Embed{
			EmbedImages: &appbsky.EmbedImages{Images: images},
		}
	}

	post := &appbsky.FeedPost{
		LexiconTypeID: "app.bsky.feed.post",
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Text:          text,
		Embed:         embed,
	}

	res, err := comatproto.RepoCreateRecord(ctx, c.client, &comatproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       c.client.Auth.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create post record: %w", err)
	}

	c.logger.Info("Posted to Bluesky",
		zap.String("uri", res.Uri),
		zap.String("cid", res.Cid))
	return res.Uri, nil
}
