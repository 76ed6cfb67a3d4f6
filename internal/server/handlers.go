package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"skylift/internal/models"
	"skylift/internal/service"
	"skylift/internal/storage"
)

func (s *Server) handleIngestArchive(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	var headers []*multipart.FileHeader
	for _, files := range form.File {
		headers = append(headers, files...)
	}
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	uploadID := c.GetHeader("X-Upload-Id")
	if uploadID == "" {
		uploadID = c.PostForm("upload_id")
	}
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	files := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadedFile(fh))
	}

	result, err := s.Ingestor.Ingest(c.Request.Context(), uploadID, files)
	if err != nil {
		if errors.Is(err, service.ErrNoManifest) || errors.Is(err, service.ErrBadManifest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Logger.Error("Ingestion failed", zap.String("upload_id", uploadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process upload"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"count":     len(result.Posts),
		"uploaded":  result.Uploaded,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"upload_id": uploadID,
	})
}

func uploadedFile(fh *multipart.FileHeader) service.UploadedFile {
	return service.UploadedFile{
		Name: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}
}

func (s *Server) handleListUploads(c *gin.Context) {
	entries, err := s.Ingestor.Manifest(c.Request.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No uploads ingested yet"})
			return
		}
		s.Logger.Error("Failed to read manifest", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list uploads"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "posts": entries})
}

func (s *Server) handleUploadLogs(c *gin.Context) {
	uploadID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"logs": s.Sessions.Lines(uploadID)})
}

// schedulePostInput accepts both request shapes: a multi-image entry with
// images[] (truncated to the attachment limit) and a legacy single-image
// entry with uri.
type schedulePostInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ScheduledTime string   `json:"scheduledTime"`
	Images        []string `json:"images"`
	URI           string   `json:"uri"`
}

func (s *Server) handleSchedulePosts(c *gin.Context) {
	var inputs []schedulePostInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data. Expected an array."})
		return
	}

	created := 0
	for i, input := range inputs {
		caption := input.Title
		if caption == "" {
			caption = input.Description
		}

		images := input.Images
		if len(images) > 4 {
			images = images[:4]
		}
		if len(images) == 0 && input.URI != "" {
			images = []string{input.URI}
		}
		if len(images) == 0 {
			// Entries without any resolvable image are skipped, not errors.
			s.Logger.Warn("Skipping scheduling entry without images", zap.Int("index", i))
			continue
		}

		scheduledTime, err := parseScheduledTime(input.ScheduledTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid scheduledTime at entry " + strconv.Itoa(i),
			})
			return
		}

		post := &models.ScheduledPost{
			PostKey:       uuid.NewString(),
			Title:         caption,
			ScheduledTime: scheduledTime,
		}
		for _, uri := range images {
			post.Images = append(post.Images, models.PostImage{ImageURI: uri})
		}

		if err := s.Store.CreatePost(c.Request.Context(), post); err != nil {
			s.Logger.Error("Failed to create scheduled post", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule posts"})
			return
		}
		created++
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": created})
}

func parseScheduledTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	// Datetime-local inputs omit the zone
	return time.ParseInLocation("2006-01-02T15:04", value, time.Local)
}

type postView struct {
	ID            uint     `json:"id"`
	PostKey       string   `json:"post_key"`
	Title         string   `json:"title"`
	ScheduledTime string   `json:"scheduledTime"`
	Posted        bool     `json:"posted"`
	Images        []string `json:"images"`
}

func viewOf(post models.ScheduledPost) postView {
	images := make([]string, 0, len(post.Images))
	for _, img := range post.Images {
		images = append(images, img.ImageURI)
	}
	return postView{
		ID:            post.ID,
		PostKey:       post.PostKey,
		Title:         post.Title,
		ScheduledTime: post.ScheduledTime.UTC().Format(time.RFC3339),
		Posted:        post.Posted,
		Images:        images,
	}
}

func (s *Server) handleListPosts(c *gin.Context) {
	posts, err := s.Store.ListPosts(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to list posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}

	views := make([]postView, 0, len(posts))
	for _, post := range posts {
		views = append(views, viewOf(post))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "posts": views})
}

func (s *Server) handleUpdatePost(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	var body struct {
		Title         *string `json:"title"`
		ScheduledTime *string `json:"scheduledTime"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var scheduledTime *time.Time
	if body.ScheduledTime != nil {
		t, err := parseScheduledTime(*body.ScheduledTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scheduledTime"})
			return
		}
		scheduledTime = &t
	}

	post, err := s.Store.UpdatePost(c.Request.Context(), uint(id), body.Title, scheduledTime)
	if errors.Is(err, service.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to update post", zap.Uint64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update post"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "post": viewOf(*post)})
}

func (s *Server) handleDeletePost(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return
	}

	images, err := s.Store.DeletePost(c.Request.Context(), uint(id))
	if errors.Is(err, service.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to delete post", zap.Uint64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete post"})
		return
	}

	// Best-effort cleanup of the stored image objects.
	for _, img := range images {
		key, ok := s.Objects.KeyFor(img.ImageURI)
		if !ok {
			continue
		}
		if err := s.Objects.Remove(c.Request.Context(), key); err != nil {
			s.Logger.Warn("Failed to remove stored image",
				zap.String("key", key), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSaveCredentials(c *gin.Context) {
	var body struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Handle == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing fields"})
		return
	}

	if err := s.Vault.Save(c.Request.Context(), body.Handle, body.Password); err != nil {
		s.Logger.Error("Failed to save credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleGetCredentials(c *gin.Context) {
	handle, password, err := s.Vault.Load(c.Request.Context())
	if errors.Is(err, service.ErrNoCredential) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No credentials found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to load credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "handle": handle, "password": password})
}

func (s *Server) handleRunScheduler(c *gin.Context) {
	results, err := s.Scheduler.RunPass(c.Request.Context())
	if err != nil {
		s.Logger.Error("Scheduler pass failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process scheduled posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}
