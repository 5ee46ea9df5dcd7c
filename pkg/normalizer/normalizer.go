package normalizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	_ "image/gif"
	_ "image/png"
)

// ErrDecode marks bytes that are not a recognized image. Callers treat it as
// a per-image failure, never a batch failure.
var ErrDecode = errors.New("unrecognized image data")

const (
	// MaxLongEdge bounds the longer dimension after normalization.
	MaxLongEdge = 960
	// JPEGQuality is the fixed re-encode quality.
	JPEGQuality = 80
)

// Normalizer decodes raw uploads, constrains resolution and re-encodes to a
// bounded-size JPEG for the classification backend.
type Normalizer struct {
	maxLongEdge int
	quality     int
}

// New creates a Normalizer with the standard bounds.
func New() *Normalizer {
	return &Normalizer{maxLongEdge: MaxLongEdge, quality: JPEGQuality}
}

// NewWithLimits creates a Normalizer with custom bounds.
func NewWithLimits(maxLongEdge, quality int) *Normalizer {
	if maxLongEdge <= 0 {
		maxLongEdge = MaxLongEdge
	}
	if quality <= 0 || quality > 100 {
		quality = JPEGQuality
	}
	return &Normalizer{maxLongEdge: maxLongEdge, quality: quality}
}

// NormalizedImage is the compressed form sent to the backend, plus the
// post-resize dimensions and derived quality flags.
type NormalizedImage struct {
	Data         []byte
	Width        int
	Height       int
	QualityFlags []string
}

// Normalize decodes raw bytes, downscales so the longer edge does not exceed
// the maximum (aspect preserved), re-encodes as JPEG and derives the quality
// flags. Returns ErrDecode for unreadable bytes.
func (n *Normalizer) Normalize(raw []byte) (*NormalizedImage, error) {
	img, err := decode(raw)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > n.maxLongEdge || h > n.maxLongEdge {
		if w >= h {
			img = imaging.Resize(img, n.maxLongEdge, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, n.maxLongEdge, imaging.Lanczos)
		}
		b = img.Bounds()
		w, h = b.Dx(), b.Dy()
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return &NormalizedImage{
		Data:         buf.Bytes(),
		Width:        w,
		Height:       h,
		QualityFlags: QualityFlags(img),
	}, nil
}

// decode tries the registered stdlib decoders first, then the explicit WebP
// decoder for files the stdlib path rejects.
func decode(raw []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(raw)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(raw)); err == nil {
		return img, nil
	}
	return nil, ErrDecode
}
