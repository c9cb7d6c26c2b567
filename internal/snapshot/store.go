package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	stddraw "image/draw"
	"image/jpeg"
	_ "image/png" // cameras occasionally deliver PNG frames
	"os"
	"path/filepath"
	"time"

	"factory-safety-go/internal/tracking"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

const (
	// cropMargin widens the detection box so the review image shows context
	// around the face, not just the tight detector crop.
	cropMargin = 0.2
	// maxCropWidth bounds the stored image size.
	maxCropWidth = 320
	jpegQuality  = 85
)

// Store writes review snapshots for sessions that were never matched to a
// known identity. Each session requests at most one capture.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Capture implements tracking.SnapshotStore: it crops the detection box out
// of the frame, downscales it and writes a JPEG under the snapshot
// directory, returning the file's reference path relative to that directory.
func (s *Store) Capture(ctx context.Context, frame []byte, sourceID string, trackID int64, bbox tracking.BoundingBox) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}

	rect := cropRect(bbox, img.Bounds())
	if rect.Empty() {
		return "", fmt.Errorf("bounding box %+v outside frame bounds %v", bbox, img.Bounds())
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	stddraw.Draw(crop, crop.Bounds(), img, rect.Min, stddraw.Src)

	out := scaleDown(crop)

	name := fmt.Sprintf("%s_track%d_%s.jpg", time.Now().UTC().Format("20060102_150405"), trackID, uuid.NewString()[:8])
	ref := filepath.ToSlash(filepath.Join(sourceID, name))
	fullPath := filepath.Join(s.dir, sourceID, name)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	log.Debugf("Captured snapshot %s for track %d", ref, trackID)
	return ref, nil
}

// cropRect expands the detection box by the crop margin and clamps it to the
// frame bounds.
func cropRect(bbox tracking.BoundingBox, bounds image.Rectangle) image.Rectangle {
	mx := bbox.Width * cropMargin
	my := bbox.Height * cropMargin
	rect := image.Rect(
		int(bbox.X-mx),
		int(bbox.Y-my),
		int(bbox.X+bbox.Width+mx),
		int(bbox.Y+bbox.Height+my),
	)
	return rect.Intersect(bounds)
}

// scaleDown resizes the crop to at most maxCropWidth, preserving aspect ratio.
func scaleDown(src *image.RGBA) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxCropWidth {
		return src
	}
	h := b.Dy() * maxCropWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxCropWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
