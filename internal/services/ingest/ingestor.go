package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

const (
	// JPEGQuality is the re-encode quality of stored canonical images.
	JPEGQuality = 85
	// MaxPixels bounds width*height before any pixel data is decoded.
	MaxPixels = 60_000_000
)

// Ingestor turns raw upload bytes into a canonical RGB image and stores a
// JPEG copy of it.
type Ingestor struct {
	store ports.ImageStore
}

var _ ports.ImageIngestor = (*Ingestor)(nil)

func New(store ports.ImageStore) *Ingestor { return &Ingestor{store: store} }

func (in *Ingestor) Ingest(ctx context.Context, raw []byte) (domain.Image, string, error) {
	img, err := Canonicalize(raw)
	if err != nil {
		return domain.Image{}, "", err
	}
	ref, err := in.store.Put(ctx, img.Encoded)
	if err != nil {
		return domain.Image{}, "", fmt.Errorf("store image: %w", err)
	}
	return img, ref, nil
}

// Canonicalize decodes raw, flattens it onto an opaque RGBA buffer and
// re-encodes it as JPEG.
func Canonicalize(raw []byte) (domain.Image, error) {
	if len(raw) == 0 {
		return domain.Image{}, fmt.Errorf("%w: empty upload", domain.ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return domain.Image{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return domain.Image{}, fmt.Errorf("%w: %s image has no pixels", domain.ErrInvalidImage, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return domain.Image{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrInvalidImage, cfg.Width, cfg.Height, MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.Image{}, fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidImage, format, err)
	}

	b := src.Bounds()
	rgb := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgb, rgb.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(rgb, rgb.Bounds(), src, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return domain.Image{}, fmt.Errorf("%w: encode jpeg: %v", domain.ErrInvalidImage, err)
	}
	return domain.Image{
		Pixels:  rgb,
		Width:   rgb.Bounds().Dx(),
		Height:  rgb.Bounds().Dy(),
		Encoded: buf.Bytes(),
	}, nil
}
