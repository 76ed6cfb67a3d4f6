package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memFile(name, content string) UploadedFile {
	return UploadedFile{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

const sampleManifest = `[
  {
    "title": "Trip with @bob",
    "creation_timestamp": 1735689600,
    "media": [
      {"uri": "media/posts/202501/a.jpg"},
      {"uri": "media/posts/202501/b.jpg"}
    ]
  },
  {
    "media": [
      {"uri": "media/posts/202501/c.jpg", "title": "Sunset\\nover water", "creation_timestamp": 1735776000}
    ]
  }
]`

func archiveFiles() []UploadedFile {
	return []UploadedFile{
		memFile("MyExport/posts_1.json", sampleManifest),
		memFile("MyExport/media/posts/202501/a.jpg", "AAA"),
		memFile("MyExport/media/posts/202501/b.jpg", "BBB"),
		memFile("MyExport/media/posts/202501/c.jpg", "CCC"),
	}
}

func newTestIngestor(objects *fakeObjects, sessions *SessionLog) *Ingestor {
	return NewIngestor(objects, sessions, zap.NewNop())
}

func TestIngestNormalizesArchive(t *testing.T) {
	objects := &fakeObjects{objects: map[string]string{}}
	ing := newTestIngestor(objects, NewSessionLog(8))

	result, err := ing.Ingest(context.Background(), "u1", archiveFiles())
	require.NoError(t, err)

	require.Len(t, result.Posts, 2)
	assert.Equal(t, 3, result.Uploaded)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Failed)

	first := result.Posts[0]
	assert.Equal(t, "1735689600", first.PostID)
	assert.Equal(t, "Trip with @bob", first.Title)
	assert.True(t, first.HasMention)
	assert.Equal(t, []string{
		"/uploads/media/posts/202501/a.jpg",
		"/uploads/media/posts/202501/b.jpg",
	}, first.Images)

	second := result.Posts[1]
	assert.Equal(t, "1735776000", second.PostID)
	assert.Equal(t, "Sunset\nover water", second.Title)
	assert.False(t, second.HasMention)

	// The consolidated manifest is readable back from storage.
	entries, err := ing.Manifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Posts, entries)
}

func TestIngestIsIdempotent(t *testing.T) {
	objects := &fakeObjects{objects: map[string]string{}}
	ing := newTestIngestor(objects, NewSessionLog(8))

	first, err := ing.Ingest(context.Background(), "u1", archiveFiles())
	require.NoError(t, err)

	second, err := ing.Ingest(context.Background(), "u2", archiveFiles())
	require.NoError(t, err)

	assert.Equal(t, first.Posts, second.Posts)
	assert.Equal(t, 3, second.Skipped)
	assert.Zero(t, second.Uploaded)
}

func TestIngestSkipsMissingImages(t *testing.T) {
	files := []UploadedFile{
		memFile("MyExport/posts_1.json", sampleManifest),
		memFile("MyExport/media/posts/202501/a.jpg", "AAA"),
		// b.jpg and c.jpg not uploaded
	}
	objects := &fakeObjects{objects: map[string]string{}}
	sessions := NewSessionLog(8)
	ing := newTestIngestor(objects, sessions)

	result, err := ing.Ingest(context.Background(), "u1", files)
	require.NoError(t, err)

	// First post keeps its surviving image; second post loses its only image
	// and is dropped entirely.
	require.Len(t, result.Posts, 1)
	assert.Equal(t, []string{"/uploads/media/posts/202501/a.jpg"}, result.Posts[0].Images)
	assert.Equal(t, 2, result.Failed)

	lines := strings.Join(sessions.Lines("u1"), "\n")
	assert.Contains(t, lines, "missing image")
	assert.Contains(t, lines, "no resolvable images")
}

func TestIngestBadManifestAborts(t *testing.T) {
	files := []UploadedFile{
		memFile("MyExport/posts_1.json", "{not valid json"),
		memFile("MyExport/media/a.jpg", "AAA"),
	}
	objects := &fakeObjects{objects: map[string]string{}}
	ing := newTestIngestor(objects, NewSessionLog(8))

	_, err := ing.Ingest(context.Background(), "u1", files)
	assert.Error(t, err)
}

func TestIngestRequiresManifest(t *testing.T) {
	files := []UploadedFile{memFile("MyExport/media/a.jpg", "AAA")}
	ing := newTestIngestor(&fakeObjects{objects: map[string]string{}}, NewSessionLog(8))

	_, err := ing.Ingest(context.Background(), "u1", files)
	assert.Error(t, err)
}

func TestIngestTitleFallsBackToUntitled(t *testing.T) {
	manifest := `[{"media": [{"uri": "media/a.jpg"}]}]`
	files := []UploadedFile{
		memFile("Export/posts.json", manifest),
		memFile("Export/media/a.jpg", "AAA"),
	}
	ing := newTestIngestor(&fakeObjects{objects: map[string]string{}}, NewSessionLog(8))

	result, err := ing.Ingest(context.Background(), "u1", files)
	require.NoError(t, err)
	require.Len(t, result.Posts, 1)
	assert.Equal(t, "Untitled", result.Posts[0].Title)
	// No timestamp anywhere: a generated id still yields a non-empty key.
	assert.NotEmpty(t, result.Posts[0].PostID)
}

func TestIngestResolvesByBasename(t *testing.T) {
	manifest := `[{"title": "x", "creation_timestamp": 5, "media": [{"uri": "some/other/prefix/a.jpg"}]}]`
	files := []UploadedFile{
		memFile("Export/posts.json", manifest),
		memFile("Export/media/a.jpg", "AAA"),
	}
	ing := newTestIngestor(&fakeObjects{objects: map[string]string{}}, NewSessionLog(8))

	result, err := ing.Ingest(context.Background(), "u1", files)
	require.NoError(t, err)
	require.Len(t, result.Posts, 1)
	require.Len(t, result.Posts[0].Images, 1)
}
