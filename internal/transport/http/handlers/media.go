package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
	"github.com/dhruv-khokhar/ChatterNet/internal/usecase"
)

const (
	uploadFormField = "file"
	// multipartOverhead leaves room for boundaries and part headers on top
	// of the file ceiling.
	multipartOverhead = 64 << 10
)

// MediaUseCase is the media service as seen by the HTTP layer.
type MediaUseCase interface {
	Upload(ctx context.Context, in usecase.UploadInput) (domain.Media, error)
	List(ctx context.Context) ([]domain.Media, error)
}

// MediaHandler exposes /api/media.
type MediaHandler struct {
	media    MediaUseCase
	maxBytes int64
	logger   *zap.Logger
}

func NewMediaHandler(media MediaUseCase, maxBytes int64, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{media: media, maxBytes: maxBytes, logger: logger}
}

func (h *MediaHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/upload", h.upload)
	r.GET("/get", h.list)
}

var mediaErrorCases = []ErrorCase{
	{Err: usecase.ErrNoFile, Status: http.StatusBadRequest, Message: "No file found"},
	{Err: usecase.ErrFileTooLarge, Status: http.StatusBadRequest, Message: "File too large"},
}

// Upload godoc
// @Summary Upload a media file
// @Tags Media
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to upload"
// @Success 201 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/media/upload [post]
func (h *MediaHandler) upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	header, err := c.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "File too large"))
			return
		}
		h.logger.Warn("upload without file", zap.String("trace_id", middleware.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "No file found"))
		return
	}

	file, err := header.Open()
	if err != nil {
		h.logger.Error("open uploaded file", zap.String("trace_id", middleware.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Error creating media"))
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h.logger.Info("media upload started",
		zap.String("file_name", header.Filename),
		zap.String("mime_type", mimeType),
		zap.Int64("size", header.Size),
	)

	media, err := h.media.Upload(c.Request.Context(), usecase.UploadInput{
		UserID:   middleware.UserID(c),
		FileName: header.Filename,
		MimeType: mimeType,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		respondAndLog(c, h.logger, "media upload failed", err, mediaErrorCases, http.StatusInternalServerError, "Error creating media")
		return
	}

	c.JSON(http.StatusCreated, UploadResponse{
		Success: true,
		MediaID: media.ID,
		URL:     media.URL,
		Message: "Media upload is successful.",
	})
}

func (h *MediaHandler) list(c *gin.Context) {
	results, err := h.media.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list media failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "Error fetching medias"))
		return
	}
	if results == nil {
		results = []domain.Media{}
	}
	c.JSON(http.StatusOK, MediaListResponse{Results: results})
}
