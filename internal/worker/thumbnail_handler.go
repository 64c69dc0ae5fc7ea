package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"file-processing-pipeline/internal/blob"
	"file-processing-pipeline/internal/jobs"
	"file-processing-pipeline/internal/media"
	"file-processing-pipeline/internal/records"
)

// FileRecords is the narrow record-update surface the handlers are
// allowed to touch.
type FileRecords interface {
	GetFile(ctx context.Context, id string) (records.File, error)
	SetThumbnailPath(ctx context.Context, id, thumbnailPath string) error
	SetMetadata(ctx context.Context, id string, metadata map[string]any) error
	SetTags(ctx context.Context, id string, tags []string) error
}

// ThumbnailHandler generates a preview image for uploaded media and
// patches the file record with the derived blob key.
//
// Failure policy: a missing source blob propagates (the upload's blob
// write may not be visible yet, so a retry is sensible); everything
// else is absorbed — a file without a thumbnail is fine, a blocked
// upload is not.
type ThumbnailHandler struct {
	blobs   blob.Store
	records FileRecords
	log     zerolog.Logger
}

// NewThumbnailHandler wires the handler's collaborators.
func NewThumbnailHandler(blobs blob.Store, recs FileRecords, log zerolog.Logger) *ThumbnailHandler {
	return &ThumbnailHandler{blobs: blobs, records: recs, log: log}
}

// Handle implements Handler for thumbnail.generate jobs.
func (h *ThumbnailHandler) Handle(ctx context.Context, job jobs.Job) error {
	var payload jobs.ThumbnailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// A payload the deployed code cannot read is a routing defect;
		// retrying cannot fix it.
		h.log.Warn().Err(err).Str("job_id", job.ID).Msg("undecodable thumbnail payload, discarding")
		return nil
	}

	data, err := h.blobs.Read(ctx, payload.StoragePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("thumbnail source %s: %w", payload.StoragePath, err)
		}
		h.absorb(payload, err, "read source failed")
		return nil
	}

	var thumb []byte
	switch {
	case strings.HasPrefix(payload.MimeType, "image/"):
		thumb, err = media.ThumbnailImage(data, media.SizeMedium)
	case strings.HasPrefix(payload.MimeType, "video/"):
		thumb, err = media.VideoFrame(ctx, data, media.SizeMedium)
	default:
		// Nothing to preview; the job still completes.
		h.log.Debug().Str("file_id", payload.FileID).Str("mime_type", payload.MimeType).Msg("no thumbnail for mime type")
		return nil
	}
	if err != nil {
		h.absorb(payload, err, "thumbnail generation failed")
		return nil
	}

	key := media.ThumbnailKey(payload.StoragePath, media.SizeMedium)
	if err := h.blobs.Save(ctx, key, thumb, "image/jpeg"); err != nil {
		h.absorb(payload, err, "thumbnail write failed")
		return nil
	}

	if err := h.records.SetThumbnailPath(ctx, payload.FileID, key); err != nil {
		if errors.Is(err, records.ErrFileNotFound) {
			h.log.Info().Str("file_id", payload.FileID).Msg("file deleted before thumbnail finished")
			return nil
		}
		h.absorb(payload, err, "record update failed")
		return nil
	}

	h.log.Info().Str("file_id", payload.FileID).Str("thumbnail_path", key).Msg("thumbnail generated")
	return nil
}

func (h *ThumbnailHandler) absorb(payload jobs.ThumbnailPayload, err error, msg string) {
	h.log.Warn().Err(err).
		Str("file_id", payload.FileID).
		Str("mime_type", payload.MimeType).
		Str("storage_path", payload.StoragePath).
		Msg(msg)
}
