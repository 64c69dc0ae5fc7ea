package worker

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"file-processing-pipeline/internal/analysis"
	"file-processing-pipeline/internal/blob"
	"file-processing-pipeline/internal/jobs"
)

// MetadataHandler enriches a file record with structured metadata
// (dimensions, duration). Strictly best-effort: every failure is
// absorbed and the job acks.
type MetadataHandler struct {
	blobs     blob.Store
	records   FileRecords
	extractor analysis.Extractor
	log       zerolog.Logger
}

// NewMetadataHandler wires the handler's collaborators.
func NewMetadataHandler(blobs blob.Store, recs FileRecords, extractor analysis.Extractor, log zerolog.Logger) *MetadataHandler {
	return &MetadataHandler{blobs: blobs, records: recs, extractor: extractor, log: log}
}

// Handle implements Handler for metadata.extract jobs.
func (h *MetadataHandler) Handle(ctx context.Context, job jobs.Job) error {
	var payload jobs.MetadataPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		h.log.Warn().Err(err).Str("job_id", job.ID).Msg("undecodable metadata payload, discarding")
		return nil
	}

	data, err := h.blobs.Read(ctx, payload.StoragePath)
	if err != nil {
		h.absorb(payload, err, "read source failed")
		return nil
	}

	meta, err := h.extractor.Extract(ctx, data, payload.MimeType)
	if err != nil {
		h.absorb(payload, err, "metadata extraction failed")
		return nil
	}
	if len(meta) == 0 {
		return nil
	}

	if err := h.records.SetMetadata(ctx, payload.FileID, meta); err != nil {
		h.absorb(payload, err, "record update failed")
		return nil
	}

	h.log.Info().Str("file_id", payload.FileID).Msg("metadata extracted")
	return nil
}

func (h *MetadataHandler) absorb(payload jobs.MetadataPayload, err error, msg string) {
	h.log.Warn().Err(err).
		Str("file_id", payload.FileID).
		Str("mime_type", payload.MimeType).
		Msg(msg)
}
