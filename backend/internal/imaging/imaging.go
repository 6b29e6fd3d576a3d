// Package imaging resizes images for the gallery and re-encodes them as WebP.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const ContentType = "image/webp"

// decodable lists the input types the registered decoders understand.
var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// CheckMimeTypes rejects upload types the gallery could not render.
func CheckMimeTypes(mimes []string) error {
	for _, m := range mimes {
		if !decodable[m] {
			return fmt.Errorf("no image decoder for allowed type %q", m)
		}
	}
	return nil
}

// Size selects the rendition served by the proxy.
type Size string

const (
	SizeThumb   Size = "thumb"
	SizePreview Size = "preview"
)

func ParseSize(s string) Size {
	if s == string(SizeThumb) {
		return SizeThumb
	}
	return SizePreview
}

type Resizer struct {
	thumbSize       int
	previewMaxWidth int
	maxDecodedSize  int64
}

// NewResizer builds a resizer. maxDecodedSize bounds width*height*4 of an
// input before it is decoded.
func NewResizer(thumbSize, previewMaxWidth int, maxDecodedSize int64) *Resizer {
	return &Resizer{thumbSize: thumbSize, previewMaxWidth: previewMaxWidth, maxDecodedSize: maxDecodedSize}
}

// Render decodes data, resizes it for size and writes WebP to w.
func (r *Resizer) Render(data []byte, size Size, w io.Writer) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to read image dimensions: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height)*4 > r.maxDecodedSize {
		return fmt.Errorf("image too large: %dx%d pixels, decoded size would exceed %d bytes limit", cfg.Width, cfg.Height, r.maxDecodedSize)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	var out image.Image
	if size == SizeThumb {
		out = Cover(img, r.thumbSize)
	} else {
		out = FitWidth(img, r.previewMaxWidth)
	}
	if err := nativewebp.Encode(w, out, nil); err != nil {
		return fmt.Errorf("failed to encode webp: %w", err)
	}
	return nil
}

// Cover scales img to fill a side x side square and crops the overflow
// around the center.
func Cover(img image.Image, side int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	crop := b
	if w > h {
		off := (w - h) / 2
		crop = image.Rect(b.Min.X+off, b.Min.Y, b.Min.X+off+h, b.Max.Y)
	} else if h > w {
		off := (h - w) / 2
		crop = image.Rect(b.Min.X, b.Min.Y+off, b.Max.X, b.Min.Y+off+w)
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)
	return dst
}

// FitWidth scales img down to maxWidth keeping the aspect ratio. Narrower
// images are returned unchanged.
func FitWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxWidth {
		return img
	}
	nh := h * maxWidth / w
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
