package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
	"github.com/objectfinder/object-finder/internal/pkg/security"
	"github.com/objectfinder/object-finder/internal/video"
)

// videoExtensions are accepted when the declared content type is not.
var videoExtensions = []string{".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".mkv"}

// multipartMemory is how much of a form is held in memory before spilling
// to temporary files.
const multipartMemory = 32 << 20

// Uploader is the part of the video client the upload handler needs.
type Uploader interface {
	UploadVideo(ctx context.Context, r io.Reader, filename, contentType string) (video.UploadResult, error)
	Mode() video.Mode
}

// UploadLimits bounds accepted uploads.
type UploadLimits struct {
	MaxBytes     int64
	AllowedTypes []string
}

// UploadHandler handles video upload HTTP requests.
type UploadHandler struct {
	video  Uploader
	limits UploadLimits
	bus    bus.Bus
	log    *logger.Logger
	now    func() time.Time
}

// NewUploadHandler creates a new upload handler. b may be nil.
func NewUploadHandler(v Uploader, limits UploadLimits, b bus.Bus, log *logger.Logger) *UploadHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &UploadHandler{
		video:  v,
		limits: limits,
		bus:    b,
		log:    log.WithComponent("upload"),
		now:    time.Now,
	}
}

// UploadResponse is returned for an accepted upload.
type UploadResponse struct {
	Success     bool   `json:"success"`
	RecordingID string `json:"video_no"`
	Message     string `json:"message"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

// RegisterRoutes registers upload routes.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", h.handleUpload)
	mux.HandleFunc("GET /api/upload/status/{video_no}", h.handleStatus)
	mux.HandleFunc("GET /api/upload/health", h.handleHealth)
}

func (h *UploadHandler) maxMB() int64 {
	return h.limits.MaxBytes / (1024 * 1024)
}

// handleUpload handles POST /api/upload
func (h *UploadHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithContext(r.Context())

	// Leave room for the multipart envelope around a maximum size file.
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, r, errors.New(errors.CodePayloadTooLarge,
				fmt.Sprintf("File too large. Maximum allowed size is %dMB.", h.maxMB())))
			return
		}
		errors.WriteError(w, r, errors.InvalidRequestError("expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.WriteError(w, r, errors.InvalidRequestError("file is required"))
		return
	}
	defer file.Close()

	filename := security.SanitizeFilename(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if err := h.validate(filename, contentType, header.Size); err != nil {
		errors.WriteError(w, r, err)
		return
	}

	result, err := h.video.UploadVideo(r.Context(), file, filename, contentType)
	if err != nil {
		appErr := errors.InternalError("Internal server error during upload", err).
			WithDetail(errors.DetailErrorID, errors.NewErrorID())
		log.Error("Upload failed", "filename", filename, "error", err, "error_id", appErr.ErrorID())
		errors.WriteError(w, r, appErr)
		return
	}

	log.Info("Video uploaded",
		"filename", filename,
		"size", header.Size,
		"video_no", result.RecordingID,
		"mock", result.Mock,
	)

	if h.bus != nil {
		ev := bus.NewEvent(bus.TopicVideoUploaded, "upload", bus.VideoUploaded{
			RecordingID: result.RecordingID,
			FileName:    filename,
			FileSize:    header.Size,
			Mock:        result.Mock,
		})
		ev.CorrelationID = logger.RequestIDFromContext(r.Context())
		if err := h.bus.Publish(r.Context(), bus.TopicVideoUploaded, ev); err != nil {
			log.Warn("Failed to publish event", "topic", bus.TopicVideoUploaded, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:     true,
		RecordingID: result.RecordingID,
		Message:     result.Message,
		FileName:    filename,
		FileSize:    header.Size,
	})
}

// validate checks the filename, type and size of an upload.
func (h *UploadHandler) validate(filename, contentType string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return errors.ValidationError("Invalid filename")
	}

	if !slices.Contains(h.limits.AllowedTypes, contentType) &&
		!slices.Contains(videoExtensions, strings.ToLower(filepath.Ext(filename))) {
		return errors.ValidationError("Invalid file type. Supported formats: MP4, AVI, MOV, WMV, FLV, WebM, MKV")
	}

	if size > h.limits.MaxBytes {
		return errors.ValidationError(fmt.Sprintf("File too large (%.1fMB). Maximum allowed size is %dMB.",
			float64(size)/(1024*1024), h.maxMB()))
	}

	return nil
}

// handleStatus handles GET /api/upload/status/{video_no}
func (h *UploadHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("video_no")

	if video.IsMockRecording(id) {
		writeJSON(w, http.StatusOK, map[string]string{
			"video_no":     id,
			"status":       video.StatusCompleted,
			"message":      "Video processed successfully (mock)",
			"processed_at": h.now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"video_no":             id,
		"status":               video.StatusProcessing,
		"message":              "Video is being processed by AI",
		"estimated_completion": "2-5 minutes",
	})
}

// handleHealth handles GET /api/upload/health
func (h *UploadHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "upload",
		"status":           "healthy",
		"mode":             h.video.Mode(),
		"max_file_size_mb": h.maxMB(),
		"allowed_types":    h.limits.AllowedTypes,
	})
}
