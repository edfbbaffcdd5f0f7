package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/config"
)

func testConfig() config.ThumbnailConfig {
	return config.ThumbnailConfig{
		ImageSize:    300,
		ImageQuality: 85,
		FaceSize:     150,
		FaceQuality:  90,
		FacePadding:  0.3,
	}
}

// gradient builds an image whose pixels encode their own position, so
// rotations can be verified by sampling corners.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	return img
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not valid JPEG: %v", err)
	}
	return img
}

func TestForImage(t *testing.T) {
	g := NewGenerator(testConfig())

	t.Run("ScalesDownLandscape", func(t *testing.T) {
		data, err := g.ForImage(gradient(1200, 800))
		if err != nil {
			t.Fatalf("ForImage failed: %v", err)
		}
		thumb := decodeJPEG(t, data)
		b := thumb.Bounds()
		if b.Dx() != 300 || b.Dy() != 200 {
			t.Errorf("expected 300x200, got %dx%d", b.Dx(), b.Dy())
		}
	})

	t.Run("ScalesDownPortrait", func(t *testing.T) {
		data, err := g.ForImage(gradient(600, 900))
		if err != nil {
			t.Fatalf("ForImage failed: %v", err)
		}
		b := decodeJPEG(t, data).Bounds()
		if b.Dx() != 200 || b.Dy() != 300 {
			t.Errorf("expected 200x300, got %dx%d", b.Dx(), b.Dy())
		}
	})

	t.Run("NeverUpscales", func(t *testing.T) {
		data, err := g.ForImage(gradient(100, 80))
		if err != nil {
			t.Fatalf("ForImage failed: %v", err)
		}
		b := decodeJPEG(t, data).Bounds()
		if b.Dx() != 100 || b.Dy() != 80 {
			t.Errorf("expected 100x80, got %dx%d", b.Dx(), b.Dy())
		}
	})
}

func TestForFace(t *testing.T) {
	g := NewGenerator(testConfig())
	src := gradient(400, 400)

	t.Run("CropWithPadding", func(t *testing.T) {
		box := catalog.BBox{Top: 100, Right: 200, Bottom: 200, Left: 100}
		data, err := g.ForFace(src, box)
		if err != nil {
			t.Fatalf("ForFace failed: %v", err)
		}
		// 100px box + 30% padding each side = 160px, scaled to 150.
		b := decodeJPEG(t, data).Bounds()
		if b.Dx() != 150 || b.Dy() != 150 {
			t.Errorf("expected 150x150, got %dx%d", b.Dx(), b.Dy())
		}
	})

	t.Run("PaddingClipsAtEdges", func(t *testing.T) {
		box := catalog.BBox{Top: 0, Right: 100, Bottom: 100, Left: 0}
		data, err := g.ForFace(src, box)
		if err != nil {
			t.Fatalf("ForFace failed: %v", err)
		}
		b := decodeJPEG(t, data).Bounds()
		// Padding clips at the top-left corner, giving a 130x130 crop.
		if b.Dx() != 130 || b.Dy() != 130 {
			t.Errorf("expected 130x130, got %dx%d", b.Dx(), b.Dy())
		}
	})

	t.Run("BoxOutsideImage", func(t *testing.T) {
		box := catalog.BBox{Top: 500, Right: 600, Bottom: 600, Left: 500}
		if _, err := g.ForFace(src, box); err != ErrEmptyCrop {
			t.Errorf("expected ErrEmptyCrop, got %v", err)
		}
	})
}

func TestApplyOrientation(t *testing.T) {
	// 3x2 source, top-left pixel is unique.
	src := gradient(3, 2)

	t.Run("UprightIsNoop", func(t *testing.T) {
		if got := ApplyOrientation(src, 1); got != src {
			t.Error("orientation 1 should return the source unchanged")
		}
	})

	t.Run("Rotate90SwapsDimensions", func(t *testing.T) {
		got := ApplyOrientation(src, 6)
		b := got.Bounds()
		if b.Dx() != 2 || b.Dy() != 3 {
			t.Fatalf("expected 2x3, got %dx%d", b.Dx(), b.Dy())
		}
		// Source (0,0) lands at the top-right corner after clockwise rotation.
		r, g, _, _ := got.At(1, 0).RGBA()
		if r>>8 != 0 || g>>8 != 0 {
			t.Errorf("expected source origin at top-right, got r=%d g=%d", r>>8, g>>8)
		}
	})

	t.Run("Rotate180KeepsDimensions", func(t *testing.T) {
		got := ApplyOrientation(src, 3)
		b := got.Bounds()
		if b.Dx() != 3 || b.Dy() != 2 {
			t.Fatalf("expected 3x2, got %dx%d", b.Dx(), b.Dy())
		}
		r, g, _, _ := got.At(2, 1).RGBA()
		if r>>8 != 0 || g>>8 != 0 {
			t.Errorf("expected source origin at bottom-right, got r=%d g=%d", r>>8, g>>8)
		}
	})

	t.Run("FlipHorizontal", func(t *testing.T) {
		got := ApplyOrientation(src, 2)
		r, g, _, _ := got.At(2, 0).RGBA()
		if r>>8 != 0 || g>>8 != 0 {
			t.Errorf("expected source origin at top-right, got r=%d g=%d", r>>8, g>>8)
		}
	})

	t.Run("Transpose", func(t *testing.T) {
		got := ApplyOrientation(src, 5)
		b := got.Bounds()
		if b.Dx() != 2 || b.Dy() != 3 {
			t.Fatalf("expected 2x3, got %dx%d", b.Dx(), b.Dy())
		}
		// Transpose maps (x,y) to (y,x), so source (2,0) lands at (0,2).
		r, g, _, _ := got.At(0, 2).RGBA()
		if r>>8 != 2 || g>>8 != 0 {
			t.Errorf("expected source (2,0) at (0,2), got r=%d g=%d", r>>8, g>>8)
		}
	})

	t.Run("Transverse", func(t *testing.T) {
		got := ApplyOrientation(src, 7)
		b := got.Bounds()
		if b.Dx() != 2 || b.Dy() != 3 {
			t.Fatalf("expected 2x3, got %dx%d", b.Dx(), b.Dy())
		}
		// Transverse maps (x,y) to (h-1-y, w-1-x), so source (2,0) lands at (1,0).
		r, g, _, _ := got.At(1, 0).RGBA()
		if r>>8 != 2 || g>>8 != 0 {
			t.Errorf("expected source (2,0) at (1,0), got r=%d g=%d", r>>8, g>>8)
		}
	})

	t.Run("Rotate270", func(t *testing.T) {
		got := ApplyOrientation(src, 8)
		b := got.Bounds()
		if b.Dx() != 2 || b.Dy() != 3 {
			t.Fatalf("expected 2x3, got %dx%d", b.Dx(), b.Dy())
		}
		r, g, _, _ := got.At(0, 2).RGBA()
		if r>>8 != 0 || g>>8 != 0 {
			t.Errorf("expected source origin at bottom-left, got r=%d g=%d", r>>8, g>>8)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("JPEGRoundTrip", func(t *testing.T) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, gradient(50, 40), nil); err != nil {
			t.Fatal(err)
		}
		img, err := Decode(buf.Bytes())
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		b := img.Bounds()
		if b.Dx() != 50 || b.Dy() != 40 {
			t.Errorf("expected 50x40, got %dx%d", b.Dx(), b.Dy())
		}
	})

	t.Run("GarbageFails", func(t *testing.T) {
		if _, err := Decode([]byte("not an image")); err == nil {
			t.Error("expected error for garbage input")
		}
	})
}

func TestExifHelpers(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(10, 10), nil); err != nil {
		t.Fatal(err)
	}

	t.Run("OrientationDefaultsToUpright", func(t *testing.T) {
		if o := Orientation(buf.Bytes()); o != 1 {
			t.Errorf("expected orientation 1 without EXIF, got %d", o)
		}
	})

	t.Run("MetadataEmptyWithoutExif", func(t *testing.T) {
		meta := ExtractMetadata(buf.Bytes())
		if meta.DateTime != "" || meta.Make != "" || meta.Latitude != nil {
			t.Errorf("expected empty metadata, got %+v", meta)
		}
	})
}
