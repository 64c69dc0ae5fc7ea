// Package media wraps the image and video transforms the processing
// handlers need: thumbnail generation, frame extraction, and metadata
// probing.
package media

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

// Size is a named thumbnail bounding box.
type Size struct {
	Name   string
	Width  int
	Height int
}

// SizeMedium is the size class generated for file previews.
var SizeMedium = Size{Name: "medium", Width: 300, Height: 300}

const jpegQuality = 80

// ThumbnailImage decodes the source bytes, applies EXIF orientation,
// and produces a center-cropped JPEG thumbnail covering the size box.
func ThumbnailImage(data []byte, size Size) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fill(img, size.Width, size.Height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbnailKey derives the blob key for a thumbnail from its source
// key: a sibling thumbnails/ directory, same basename, size suffix,
// always .jpg. "u1/a.jpg" becomes "u1/thumbnails/a_medium.jpg".
func ThumbnailKey(storagePath string, size Size) string {
	dir := path.Dir(storagePath)
	base := path.Base(storagePath)
	base = strings.TrimSuffix(base, path.Ext(base))
	name := fmt.Sprintf("%s_%s.jpg", base, size.Name)
	if dir == "." || dir == "/" {
		return path.Join("thumbnails", name)
	}
	return path.Join(dir, "thumbnails", name)
}
