// Package thumbnail renders the JPEG previews of ingested images and
// detected faces, normalising EXIF orientation on the way in.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/config"
)

// ErrEmptyCrop is returned when a face box clips to nothing inside the
// image bounds.
var ErrEmptyCrop = errors.New("face crop is empty")

// Generator renders thumbnails according to the configured sizes.
type Generator struct {
	cfg config.ThumbnailConfig
}

func NewGenerator(cfg config.ThumbnailConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Decode parses image bytes and applies the EXIF orientation, so every
// downstream consumer works in display coordinates. JPEG, PNG and GIF
// are supported.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return ApplyOrientation(img, Orientation(data)), nil
}

// ForImage renders the whole-image preview, scaled to fit the configured
// bounding square. Images already small enough are not upscaled.
func (g *Generator) ForImage(src image.Image) ([]byte, error) {
	return encodeJPEG(fit(src, g.cfg.ImageSize), g.cfg.ImageQuality)
}

// ForFace crops the face with padding around the box, clips the crop to
// the image, and renders it at the configured face size.
func (g *Generator) ForFace(src image.Image, box catalog.BBox) ([]byte, error) {
	rect := padBox(box, g.cfg.FacePadding).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}
	return encodeJPEG(fit(crop(src, rect), g.cfg.FaceSize), g.cfg.FaceQuality)
}

// padBox grows the box by the padding fraction on every side.
func padBox(box catalog.BBox, padding float64) image.Rectangle {
	padX := int(float64(box.Width()) * padding)
	padY := int(float64(box.Height()) * padding)
	return image.Rect(box.Left-padX, box.Top-padY, box.Right+padX, box.Bottom+padY)
}

func crop(src image.Image, rect image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst
}

// fit scales the image down to fit within a max-by-max square,
// preserving aspect ratio. Never upscales.
func fit(src image.Image, max int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= max && h <= max {
		return src
	}

	if w > h {
		h = h * max / w
		w = max
	} else {
		w = w * max / h
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// encodeJPEG flattens any alpha onto white and encodes at the given
// quality.
func encodeJPEG(src image.Image, quality int) ([]byte, error) {
	b := src.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
