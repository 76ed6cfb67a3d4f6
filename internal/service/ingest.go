package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skylift/internal/storage"
	"skylift/pkg/util"
)

// ManifestObjectKey is where the consolidated post manifest lands in object
// storage. Each ingestion overwrites it; the preview UI reads it back.
const ManifestObjectKey = "uploadData.json"

var (
	// ErrNoManifest means the upload contained no JSON manifest at all.
	ErrNoManifest = errors.New("no JSON manifest in upload")
	// ErrBadManifest means a manifest could not be parsed; the whole
	// ingestion is rejected in that case.
	ErrBadManifest = errors.New("manifest is not valid JSON")
)

// ManifestEntry is one normalized post in the consolidated manifest.
type ManifestEntry struct {
	PostID     string   `json:"postId"`
	Title      string   `json:"title"`
	HasMention bool     `json:"hasMention"`
	Images     []string `json:"images"`
}

// archivePost mirrors one entry of an exported posts JSON. Exports are
// inconsistent about where the caption lives, so both the post and its media
// items may carry a title.
type archivePost struct {
	Title             string         `json:"title"`
	CreationTimestamp int64          `json:"creation_timestamp"`
	Media             []archiveMedia `json:"media"`
}

type archiveMedia struct {
	URI               string `json:"uri"`
	Title             string `json:"title"`
	CreationTimestamp int64  `json:"creation_timestamp"`
}

// UploadedFile is one file of a multipart archive upload. Open returns a
// fresh reader so a file can be read again after an existence check.
type UploadedFile struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// IngestResult summarizes one archive ingestion.
type IngestResult struct {
	Posts    []ManifestEntry
	Uploaded int
	Skipped  int
	Failed   int
}

// Ingestor turns a raw archive upload into normalized, deduplicated post
// entries backed by object storage.
type Ingestor struct {
	objects  storage.Store
	sessions *SessionLog
	logger   *zap.Logger
}

func NewIngestor(objects storage.Store, sessions *SessionLog, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		objects:  objects,
		sessions: sessions,
		logger:   logger,
	}
}

// Ingest processes all uploaded files under one upload session. An
// unparseable manifest aborts the whole ingestion; a missing or failing
// image only skips that image.
func (ing *Ingestor) Ingest(ctx context.Context, uploadID string, files []UploadedFile) (*IngestResult, error) {
	var manifests []UploadedFile
	imagesByPath := make(map[string]UploadedFile)
	imagesByBase := make(map[string]UploadedFile)

	for _, f := range files {
		normalized := util.StripTopFolder(f.Name)
		switch {
		case strings.HasSuffix(strings.ToLower(normalized), ".json"):
			manifests = append(manifests, f)
		case util.IsImagePath(normalized):
			imagesByPath[normalized] = f
			imagesByBase[util.Basename(normalized)] = f
		}
	}

	if len(manifests) == 0 {
		return nil, ErrNoManifest
	}

	result := &IngestResult{}
	for _, manifest := range manifests {
		posts, err := ing.parseManifest(manifest)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadManifest, manifest.Name, err)
		}
		for _, post := range posts {
			entry := ing.normalizePost(ctx, uploadID, post, imagesByPath, imagesByBase, result)
			if len(entry.Images) == 0 {
				ing.log(uploadID, fmt.Sprintf("dropping post %s: no resolvable images", entry.PostID))
				continue
			}
			result.Posts = append(result.Posts, entry)
		}
	}

	if err := ing.writeManifest(ctx, result.Posts); err != nil {
		return nil, err
	}

	ing.log(uploadID, fmt.Sprintf("done: %d posts, %d uploaded, %d skipped, %d failed",
		len(result.Posts), result.Uploaded, result.Skipped, result.Failed))
	return result, nil
}

func (ing *Ingestor) parseManifest(f UploadedFile) ([]archivePost, error) {
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var posts []archivePost
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (ing *Ingestor) normalizePost(ctx context.Context, uploadID string, post archivePost, byPath, byBase map[string]UploadedFile, result *IngestResult) ManifestEntry {
	title := util.NormalizeCaption(ing.pickTitle(post))

	entry := ManifestEntry{
		PostID:     ing.pickPostKey(post),
		Title:      title,
		HasMention: util.HasMention(title),
	}

	for _, media := range post.Media {
		key := util.StripTopFolder(media.URI)
		file, ok := byPath[key]
		if !ok {
			file, ok = byBase[util.Basename(media.URI)]
		}
		if !ok {
			result.Failed++
			ing.log(uploadID, fmt.Sprintf("missing image for uri %s, skipping", media.URI))
			ing.logger.Warn("Archive references a file that was not uploaded",
				zap.String("uri", media.URI))
			continue
		}

		url, err := ing.storeImage(ctx, uploadID, key, file, result)
		if err != nil {
			result.Failed++
			ing.log(uploadID, fmt.Sprintf("failed to store %s: %v", key, err))
			ing.logger.Warn("Failed to store archive image", zap.String("key", key), zap.Error(err))
			continue
		}
		entry.Images = append(entry.Images, url)
	}

	return entry
}

// storeImage uploads one image at most once: an object that already exists
// under the key is reused so re-ingesting the same archive stays idempotent.
func (ing *Ingestor) storeImage(ctx context.Context, uploadID, key string, file UploadedFile, result *IngestResult) (string, error) {
	exists, err := ing.objects.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		result.Skipped++
		ing.log(uploadID, fmt.Sprintf("skipped %s, already exists", key))
		return ing.objects.PublicURL(key), nil
	}

	r, err := file.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := ing.objects.Upload(ctx, key, contentType, r)
	if err != nil {
		return "", err
	}
	result.Uploaded++
	ing.log(uploadID, fmt.Sprintf("uploaded %s", key))
	return url, nil
}

// pickTitle prefers the post-level title, then the first media item that
// carries one, then a literal fallback.
func (ing *Ingestor) pickTitle(post archivePost) string {
	if post.Title != "" {
		return post.Title
	}
	for _, media := range post.Media {
		if media.Title != "" {
			return media.Title
		}
	}
	return "Untitled"
}

// pickPostKey keeps identifiers stable across re-ingestions: the archive's
// creation timestamp wins, a generated id is the last resort.
func (ing *Ingestor) pickPostKey(post archivePost) string {
	if post.CreationTimestamp != 0 {
		return strconv.FormatInt(post.CreationTimestamp, 10)
	}
	for _, media := range post.Media {
		if media.CreationTimestamp != 0 {
			return strconv.FormatInt(media.CreationTimestamp, 10)
		}
	}
	return uuid.NewString()
}

func (ing *Ingestor) writeManifest(ctx context.Context, entries []ManifestEntry) error {
	if entries == nil {
		entries = []ManifestEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if _, err := ing.objects.Upload(ctx, ManifestObjectKey, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Manifest reads back the consolidated manifest written by the last
// ingestion.
func (ing *Ingestor) Manifest(ctx context.Context) ([]ManifestEntry, error) {
	data, err := ing.objects.Fetch(ctx, ManifestObjectKey)
	if err != nil {
		return nil, err
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt manifest: %w", err)
	}
	return entries, nil
}

func (ing *Ingestor) log(uploadID, line string) {
	if uploadID != "" && ing.sessions != nil {
		ing.sessions.Append(uploadID, line)
	}
}
