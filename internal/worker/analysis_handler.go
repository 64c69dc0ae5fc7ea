package worker

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"file-processing-pipeline/internal/analysis"
	"file-processing-pipeline/internal/blob"
	"file-processing-pipeline/internal/jobs"
)

// AnalysisHandler sends image bytes to the external analysis service
// and patches tags plus detected objects, colors, and confidence onto
// the file record. Best-effort like metadata extraction; the analyzer
// may also be absent entirely (not configured), which is a clean no-op.
type AnalysisHandler struct {
	blobs    blob.Store
	records  FileRecords
	analyzer analysis.Analyzer
	log      zerolog.Logger
}

// NewAnalysisHandler wires the handler's collaborators. analyzer may be
// nil when no analysis service is configured.
func NewAnalysisHandler(blobs blob.Store, recs FileRecords, analyzer analysis.Analyzer, log zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{blobs: blobs, records: recs, analyzer: analyzer, log: log}
}

// Handle implements Handler for image.analyze jobs.
func (h *AnalysisHandler) Handle(ctx context.Context, job jobs.Job) error {
	var payload jobs.AnalysisPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		h.log.Warn().Err(err).Str("job_id", job.ID).Msg("undecodable analysis payload, discarding")
		return nil
	}

	if h.analyzer == nil {
		h.log.Debug().Str("file_id", payload.FileID).Msg("image analysis not configured")
		return nil
	}

	data, err := h.blobs.Read(ctx, payload.StoragePath)
	if err != nil {
		h.absorb(payload, err, "read source failed")
		return nil
	}

	result, err := h.analyzer.Analyze(ctx, data)
	if err != nil {
		h.absorb(payload, err, "image analysis failed")
		return nil
	}

	if len(result.Tags) > 0 {
		if err := h.records.SetTags(ctx, payload.FileID, result.Tags); err != nil {
			h.absorb(payload, err, "tags update failed")
			return nil
		}
	}

	meta := map[string]any{}
	if len(result.Objects) > 0 {
		meta["objects"] = result.Objects
	}
	if len(result.Colors) > 0 {
		meta["colors"] = result.Colors
	}
	if result.Confidence > 0 {
		meta["confidence"] = result.Confidence
	}
	if len(meta) > 0 {
		if err := h.records.SetMetadata(ctx, payload.FileID, meta); err != nil {
			h.absorb(payload, err, "record update failed")
			return nil
		}
	}

	h.log.Info().Str("file_id", payload.FileID).Int("tags", len(result.Tags)).Msg("image analyzed")
	return nil
}

func (h *AnalysisHandler) absorb(payload jobs.AnalysisPayload, err error, msg string) {
	h.log.Warn().Err(err).
		Str("file_id", payload.FileID).
		Str("storage_path", payload.StoragePath).
		Msg(msg)
}
