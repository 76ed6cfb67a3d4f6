package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skylift/internal/config"
	"skylift/internal/models"
	"skylift/internal/service"
	"skylift/internal/storage"
)

type stubStore struct {
	posts   []*models.ScheduledPost
	nextID  uint
	listErr error
	dueErr  error
}

func (f *stubStore) CreatePost(_ context.Context, post *models.ScheduledPost) error {
	f.nextID++
	post.ID = f.nextID
	f.posts = append(f.posts, post)
	return nil
}

func (f *stubStore) GetPost(_ context.Context, id uint) (*models.ScheduledPost, error) {
	for _, p := range f.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, service.ErrPostNotFound
}

func (f *stubStore) ListPosts(context.Context) ([]models.ScheduledPost, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.ScheduledPost, 0, len(f.posts))
	for _, p := range f.posts {
		out = append(out, *p)
	}
	return out, nil
}

func (f *stubStore) UpdatePost(ctx context.Context, id uint, title *string, scheduledTime *time.Time) (*models.ScheduledPost, error) {
	post, err := f.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if title != nil {
		post.Title = *title
	}
	if scheduledTime != nil {
		post.ScheduledTime = *scheduledTime
	}
	return post, nil
}

func (f *stubStore) DeletePost(ctx context.Context, id uint) ([]models.PostImage, error) {
	for i, p := range f.posts {
		if p.ID == id {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			return p.Images, nil
		}
	}
	return nil, service.ErrPostNotFound
}

func (f *stubStore) DuePosts(_ context.Context, now time.Time) ([]models.ScheduledPost, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var due []models.ScheduledPost
	for _, p := range f.posts {
		if !p.Posted && !p.ScheduledTime.After(now) {
			due = append(due, *p)
		}
	}
	return due, nil
}

func (f *stubStore) MarkPosted(ctx context.Context, id uint) error {
	post, err := f.GetPost(ctx, id)
	if err != nil {
		return err
	}
	post.Posted = true
	return nil
}

func (f *stubStore) ClaimPost(context.Context, uint, time.Time) (bool, error) { return true, nil }

func (f *stubStore) ReleasePost(context.Context, uint) error { return nil }

func (f *stubStore) AppendAttempt(context.Context, *models.AttemptLog) error { return nil }

type stubVault struct {
	handle   string
	password string
	saveErr  error
}

func (f *stubVault) Save(_ context.Context, handle, password string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.handle, f.password = handle, password
	return nil
}

func (f *stubVault) Load(context.Context) (string, string, error) {
	if f.handle == "" {
		return "", "", service.ErrNoCredential
	}
	return f.handle, f.password, nil
}

type memObjects struct {
	objects map[string]string
}

func (f *memObjects) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *memObjects) Upload(_ context.Context, key, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.objects[key] = string(data)
	return f.PublicURL(key), nil
}

func (f *memObjects) Fetch(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return []byte(data), nil
}

func (f *memObjects) Remove(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *memObjects) PublicURL(key string) string { return "/uploads/" + key }

func (f *memObjects) KeyFor(publicURL string) (string, bool) {
	if !strings.HasPrefix(publicURL, "/uploads/") {
		return "", false
	}
	return strings.TrimPrefix(publicURL, "/uploads/"), true
}

type alwaysFailPublisher struct{}

func (alwaysFailPublisher) Publish(context.Context, uint) error {
	return errors.New("remote unavailable")
}

func newTestServer(t *testing.T, store *stubStore, vault *stubVault, objects *memObjects) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	sessions := service.NewSessionLog(8)
	srv := &Server{
		Router:   gin.New(),
		Logger:   logger,
		Store:    store,
		Vault:    vault,
		Objects:  objects,
		Sessions: sessions,
		Ingestor: service.NewIngestor(objects, sessions, logger),
		Scheduler: service.NewScheduler(
			&config.SchedulerConfig{MaxAttempts: 5, Interval: "1m"},
			store, alwaysFailPublisher{}, nil, logger),
	}
	srv.setupRoutes()
	return srv
}

func doJSON(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func TestSchedulePostsCapsImagesAtFour(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store, &stubVault{}, &memObjects{objects: map[string]string{}})

	body := []map[string]any{{
		"title":         "six pics",
		"scheduledTime": "2026-09-01T10:00:00Z",
		"images":        []string{"/uploads/1.jpg", "/uploads/2.jpg", "/uploads/3.jpg", "/uploads/4.jpg", "/uploads/5.jpg", "/uploads/6.jpg"},
	}}

	w := doJSON(srv, http.MethodPost, "/api/v1/posts", body)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, store.posts, 1)
	images := store.posts[0].Images
	require.Len(t, images, 4)
	assert.Equal(t, "/uploads/1.jpg", images[0].ImageURI)
	assert.Equal(t, "/uploads/4.jpg", images[3].ImageURI)
}

func TestSchedulePostsSkipsEntriesWithoutImages(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store, &stubVault{}, &memObjects{objects: map[string]string{}})

	body := []map[string]any{
		{"title": "no images", "scheduledTime": "2026-09-01T10:00:00Z"},
		{"description": "single uri", "scheduledTime": "2026-09-01T10:00:00Z", "uri": "/uploads/a.jpg"},
	}

	w := doJSON(srv, http.MethodPost, "/api/v1/posts", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Count)

	require.Len(t, store.posts, 1)
	assert.Equal(t, "single uri", store.posts[0].Title)
}

func TestSchedulePostsRejectsBadTimestamp(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{}, &memObjects{objects: map[string]string{}})

	body := []map[string]any{{
		"title":         "bad time",
		"scheduledTime": "not-a-time",
		"uri":           "/uploads/a.jpg",
	}}

	w := doJSON(srv, http.MethodPost, "/api/v1/posts", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulePostsRejectsNonArrayBody(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{}, &memObjects{objects: map[string]string{}})

	w := doJSON(srv, http.MethodPost, "/api/v1/posts", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialsRoundTrip(t *testing.T) {
	vault := &stubVault{}
	srv := newTestServer(t, &stubStore{}, vault, &memObjects{objects: map[string]string{}})

	// Nothing stored yet
	w := doJSON(srv, http.MethodGet, "/api/v1/credentials", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Missing fields
	w = doJSON(srv, http.MethodPost, "/api/v1/credentials", map[string]string{"handle": "me.bsky.social"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Save and read back
	w = doJSON(srv, http.MethodPost, "/api/v1/credentials", map[string]string{
		"handle": "me.bsky.social", "password": "app-pass",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(srv, http.MethodGet, "/api/v1/credentials", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "me.bsky.social")
}

func TestRunSchedulerReportsPerPostOutcome(t *testing.T) {
	store := &stubStore{}
	require.NoError(t, store.CreatePost(context.Background(), &models.ScheduledPost{
		Title:         "due",
		ScheduledTime: time.Now().Add(-time.Hour),
		Images:        []models.PostImage{{ImageURI: "/uploads/a.jpg"}},
	}))
	srv := newTestServer(t, store, &stubVault{}, &memObjects{objects: map[string]string{}})

	w := doJSON(srv, http.MethodPost, "/api/v1/scheduler/run", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Results []service.PassResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Success)
	assert.Equal(t, 5, resp.Results[0].Attempts)
}

func TestRunSchedulerFailsWhenListingFails(t *testing.T) {
	store := &stubStore{dueErr: errors.New("db down")}
	srv := newTestServer(t, store, &stubVault{}, &memObjects{objects: map[string]string{}})

	w := doJSON(srv, http.MethodPost, "/api/v1/scheduler/run", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunSchedulerIsMethodGated(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{}, &memObjects{objects: map[string]string{}})

	w := doJSON(srv, http.MethodGet, "/api/v1/scheduler/run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestArchiveMultipart(t *testing.T) {
	objects := &memObjects{objects: map[string]string{}}
	srv := newTestServer(t, &stubStore{}, &stubVault{}, objects)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	manifest, err := mw.CreateFormFile("files", "Export/posts_1.json")
	require.NoError(t, err)
	_, err = manifest.Write([]byte(`[{"title": "hi @sam", "creation_timestamp": 42, "media": [{"uri": "Export/media/a.jpg"}]}]`))
	require.NoError(t, err)

	img, err := mw.CreateFormFile("files", "Export/media/a.jpg")
	require.NoError(t, err)
	_, err = img.Write([]byte("JPEGDATA"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Upload-Id", "u-test")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success  bool `json:"success"`
		Count    int  `json:"count"`
		Uploaded int  `json:"uploaded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 1, resp.Uploaded)
	assert.Contains(t, objects.objects, "media/a.jpg")

	// Progress lines are pollable under the upload id
	w = doJSON(srv, http.MethodGet, "/api/v1/uploads/u-test/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "uploaded media/a.jpg")

	// The consolidated manifest is listed back
	w = doJSON(srv, http.MethodGet, "/api/v1/uploads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hasMention":true`)
}

func TestIngestArchiveBadManifest(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{}, &memObjects{objects: map[string]string{}})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	manifest, err := mw.CreateFormFile("files", "Export/posts_1.json")
	require.NoError(t, err)
	_, err = manifest.Write([]byte("{broken"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePostRemovesStoredImages(t *testing.T) {
	store := &stubStore{}
	objects := &memObjects{objects: map[string]string{"media/a.jpg": "AAA"}}
	require.NoError(t, store.CreatePost(context.Background(), &models.ScheduledPost{
		Title:         "doomed",
		ScheduledTime: time.Now(),
		Images:        []models.PostImage{{ImageURI: "/uploads/media/a.jpg"}},
	}))
	srv := newTestServer(t, store, &stubVault{}, objects)

	w := doJSON(srv, http.MethodDelete, "/api/v1/posts/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, store.posts)
	assert.NotContains(t, objects.objects, "media/a.jpg")
}

func TestListUploadsWithoutManifest(t *testing.T) {
	srv := newTestServer(t, &stubStore{}, &stubVault{}, &memObjects{objects: map[string]string{}})

	w := doJSON(srv, http.MethodGet, "/api/v1/uploads", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
