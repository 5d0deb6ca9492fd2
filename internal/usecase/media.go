package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

const mediaListLimit = 100

var (
	// ErrNoFile indicates the upload carried no file part.
	ErrNoFile = errors.New("no file found")
	// ErrFileTooLarge indicates the upload exceeded the configured ceiling.
	ErrFileTooLarge = errors.New("file too large")
)

// MediaService stores uploads in the object store and records them.
type MediaService struct {
	media    port.MediaRepository
	objects  port.ObjectStore
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time
}

func NewMediaService(media port.MediaRepository, objects port.ObjectStore, maxBytes int64, logger *zap.Logger) *MediaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaService{media: media, objects: objects, maxBytes: maxBytes, logger: logger, now: time.Now}
}

// UploadInput describes one uploaded file.
type UploadInput struct {
	UserID   string
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Upload writes the binary first and then the record. If the record cannot
// be saved the object is removed again.
func (s *MediaService) Upload(ctx context.Context, in UploadInput) (domain.Media, error) {
	if in.Body == nil {
		return domain.Media{}, ErrNoFile
	}
	if s.maxBytes > 0 && in.Size > s.maxBytes {
		return domain.Media{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, in.Size, s.maxBytes)
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	id := uuid.NewString()
	name := safeFileName(in.FileName)
	key := "media/" + id + "/" + name

	url, err := s.objects.Put(ctx, key, in.Body, in.Size, mimeType)
	if err != nil {
		return domain.Media{}, fmt.Errorf("store media object: %w", err)
	}

	media := domain.Media{
		ID:           id,
		PublicID:     key,
		OriginalName: name,
		MimeType:     mimeType,
		URL:          url,
		UserID:       in.UserID,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.media.Create(ctx, media); err != nil {
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			s.logger.Error("orphaned media object", zap.String("public_id", key), zap.Error(delErr))
		}
		return domain.Media{}, fmt.Errorf("save media record: %w", err)
	}

	s.logger.Info("media uploaded",
		zap.String("media_id", id),
		zap.String("user_id", in.UserID),
		zap.String("mime_type", mimeType),
		zap.Int64("size", in.Size),
	)
	return media, nil
}

// List returns the newest media records.
func (s *MediaService) List(ctx context.Context) ([]domain.Media, error) {
	media, err := s.media.List(ctx, mediaListLimit)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	return media, nil
}

func safeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}
