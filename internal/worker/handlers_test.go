package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"file-processing-pipeline/internal/analysis"
	"file-processing-pipeline/internal/blob"
	"file-processing-pipeline/internal/jobs"
	"file-processing-pipeline/internal/records"
)

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (f *fakeBlob) Save(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlob) Read(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", key, blob.ErrNotFound)
	}
	return data, nil
}

func (f *fakeBlob) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlob) Stat(_ context.Context, key string) (blob.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return blob.Info{}, blob.ErrNotFound
	}
	return blob.Info{Size: int64(len(data))}, nil
}

func (f *fakeBlob) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

type fakeRecords struct {
	mu    sync.Mutex
	files map[string]*records.File
}

func newFakeRecords(files ...*records.File) *fakeRecords {
	fr := &fakeRecords{files: map[string]*records.File{}}
	for _, f := range files {
		fr.files[f.ID] = f
	}
	return fr
}

func (f *fakeRecords) GetFile(_ context.Context, id string) (records.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return records.File{}, records.ErrFileNotFound
	}
	return *file, nil
}

func (f *fakeRecords) SetThumbnailPath(_ context.Context, id, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return records.ErrFileNotFound
	}
	file.ThumbnailPath = &path
	return nil
}

func (f *fakeRecords) SetMetadata(_ context.Context, id string, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return records.ErrFileNotFound
	}
	if file.Metadata == nil {
		file.Metadata = map[string]any{}
	}
	for k, v := range meta {
		file.Metadata[k] = v
	}
	return nil
}

func (f *fakeRecords) SetTags(_ context.Context, id string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return records.ErrFileNotFound
	}
	file.Tags = tags
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func thumbJobFor(t *testing.T, payload jobs.ThumbnailPayload) jobs.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return jobs.Job{ID: "j1", Kind: jobs.KindGenerateThumbnail, Payload: raw, AttemptsAllowed: 3}
}

func TestThumbnailHandlerGeneratesAndPatchesRecord(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.jpg", pngBytes(t, 640, 480), "image/png"))
	recs := newFakeRecords(&records.File{ID: "F1", Path: "u1/a.jpg"})

	h := NewThumbnailHandler(blobs, recs, zerolog.Nop())
	job := thumbJobFor(t, jobs.ThumbnailPayload{FileID: "F1", UserID: "u1", StoragePath: "u1/a.jpg", MimeType: "image/jpeg", OriginalName: "a.jpg"})

	require.NoError(t, h.Handle(ctx, job))

	thumb, err := blobs.Read(ctx, "u1/thumbnails/a_medium.jpg")
	require.NoError(t, err, "expected thumbnail blob")

	img, _, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, 300, img.Bounds().Dx())
	require.Equal(t, 300, img.Bounds().Dy())

	file, err := recs.GetFile(ctx, "F1")
	require.NoError(t, err)
	require.NotNil(t, file.ThumbnailPath)
	require.Equal(t, "u1/thumbnails/a_medium.jpg", *file.ThumbnailPath)
}

func TestThumbnailHandlerIdempotent(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.jpg", pngBytes(t, 640, 480), "image/png"))
	recs := newFakeRecords(&records.File{ID: "F1", Path: "u1/a.jpg"})

	h := NewThumbnailHandler(blobs, recs, zerolog.Nop())
	job := thumbJobFor(t, jobs.ThumbnailPayload{FileID: "F1", StoragePath: "u1/a.jpg", MimeType: "image/jpeg"})

	require.NoError(t, h.Handle(ctx, job))
	require.NoError(t, h.Handle(ctx, job))

	file, _ := recs.GetFile(ctx, "F1")
	require.Equal(t, "u1/thumbnails/a_medium.jpg", *file.ThumbnailPath)
}

func TestThumbnailHandlerMissingSourcePropagates(t *testing.T) {
	h := NewThumbnailHandler(newFakeBlob(), newFakeRecords(), zerolog.Nop())
	job := thumbJobFor(t, jobs.ThumbnailPayload{FileID: "F1", StoragePath: "u1/missing.jpg", MimeType: "image/jpeg"})

	err := h.Handle(context.Background(), job)
	require.Error(t, err)
	require.True(t, errors.Is(err, blob.ErrNotFound))
}

func TestThumbnailHandlerUnsupportedMimeNoop(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/doc.pdf", []byte("%PDF-1.4"), "application/pdf"))
	recs := newFakeRecords(&records.File{ID: "F1", Path: "u1/doc.pdf"})

	h := NewThumbnailHandler(blobs, recs, zerolog.Nop())
	job := thumbJobFor(t, jobs.ThumbnailPayload{FileID: "F1", StoragePath: "u1/doc.pdf", MimeType: "application/pdf"})

	require.NoError(t, h.Handle(ctx, job))

	require.Equal(t, []string{"u1/doc.pdf"}, blobs.keys(), "no thumbnail must be written")
	file, _ := recs.GetFile(ctx, "F1")
	require.Nil(t, file.ThumbnailPath)
}

func TestThumbnailHandlerCorruptImageAbsorbed(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/bad.jpg", []byte("definitely not a jpeg"), "image/jpeg"))
	recs := newFakeRecords(&records.File{ID: "F1", Path: "u1/bad.jpg"})

	h := NewThumbnailHandler(blobs, recs, zerolog.Nop())
	job := thumbJobFor(t, jobs.ThumbnailPayload{FileID: "F1", StoragePath: "u1/bad.jpg", MimeType: "image/jpeg"})

	require.NoError(t, h.Handle(ctx, job), "corrupt media must not fail the job")
	file, _ := recs.GetFile(ctx, "F1")
	require.Nil(t, file.ThumbnailPath)
}

func TestThumbnailHandlerDeletedRecordAbsorbed(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.jpg", pngBytes(t, 64, 64), "image/png"))

	h := NewThumbnailHandler(blobs, newFakeRecords(), zerolog.Nop())
	job := thumbJobFor(t, jobs.ThumbnailPayload{FileID: "gone", StoragePath: "u1/a.jpg", MimeType: "image/jpeg"})

	require.NoError(t, h.Handle(ctx, job))
}

type fakeExtractor struct {
	meta map[string]any
	err  error
}

func (f fakeExtractor) Extract(context.Context, []byte, string) (map[string]any, error) {
	return f.meta, f.err
}

func TestMetadataHandlerPatchesRecord(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.png", pngBytes(t, 64, 48), "image/png"))
	recs := newFakeRecords(&records.File{ID: "F1"})

	h := NewMetadataHandler(blobs, recs, fakeExtractor{meta: map[string]any{"width": 64, "height": 48}}, zerolog.Nop())
	raw, _ := json.Marshal(jobs.MetadataPayload{FileID: "F1", StoragePath: "u1/a.png", MimeType: "image/png"})

	require.NoError(t, h.Handle(ctx, jobs.Job{ID: "j1", Kind: jobs.KindExtractMetadata, Payload: raw}))

	file, _ := recs.GetFile(ctx, "F1")
	require.Equal(t, 64, file.Metadata["width"])
	require.Equal(t, 48, file.Metadata["height"])
}

func TestMetadataHandlerExtractionFailureAbsorbed(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.png", []byte("junk"), "image/png"))
	recs := newFakeRecords(&records.File{ID: "F1"})

	h := NewMetadataHandler(blobs, recs, fakeExtractor{err: errors.New("probe exploded")}, zerolog.Nop())
	raw, _ := json.Marshal(jobs.MetadataPayload{FileID: "F1", StoragePath: "u1/a.png", MimeType: "image/png"})

	require.NoError(t, h.Handle(ctx, jobs.Job{ID: "j1", Kind: jobs.KindExtractMetadata, Payload: raw}))

	file, _ := recs.GetFile(ctx, "F1")
	require.Nil(t, file.Metadata)
}

type fakeAnalyzer struct {
	result analysis.Result
	err    error
}

func (f fakeAnalyzer) Analyze(context.Context, []byte) (analysis.Result, error) {
	return f.result, f.err
}

func TestAnalysisHandlerPatchesTagsAndMetadata(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.jpg", pngBytes(t, 32, 32), "image/png"))
	recs := newFakeRecords(&records.File{ID: "F1"})

	h := NewAnalysisHandler(blobs, recs, fakeAnalyzer{result: analysis.Result{
		Tags:       []string{"sunset", "beach"},
		Objects:    []string{"person"},
		Colors:     []string{"#ff8800"},
		Confidence: 0.92,
	}}, zerolog.Nop())
	raw, _ := json.Marshal(jobs.AnalysisPayload{FileID: "F1", StoragePath: "u1/a.jpg"})

	require.NoError(t, h.Handle(ctx, jobs.Job{ID: "j1", Kind: jobs.KindAnalyzeImage, Payload: raw}))

	file, _ := recs.GetFile(ctx, "F1")
	require.Equal(t, []string{"sunset", "beach"}, file.Tags)
	require.Equal(t, []string{"person"}, file.Metadata["objects"])
	require.Equal(t, []string{"#ff8800"}, file.Metadata["colors"])
	require.Equal(t, 0.92, file.Metadata["confidence"])
}

func TestAnalysisHandlerServiceFailureAbsorbed(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlob()
	require.NoError(t, blobs.Save(ctx, "u1/a.jpg", pngBytes(t, 32, 32), "image/png"))
	recs := newFakeRecords(&records.File{ID: "F1"})

	h := NewAnalysisHandler(blobs, recs, fakeAnalyzer{err: errors.New("rate limited")}, zerolog.Nop())
	raw, _ := json.Marshal(jobs.AnalysisPayload{FileID: "F1", StoragePath: "u1/a.jpg"})

	require.NoError(t, h.Handle(ctx, jobs.Job{ID: "j1", Kind: jobs.KindAnalyzeImage, Payload: raw}),
		"analysis failure must ack, not retry")

	file, _ := recs.GetFile(ctx, "F1")
	require.Nil(t, file.Tags)
	require.Nil(t, file.Metadata)
}
