// Package derive produces scaled variants of uploaded images.
package derive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"medialib/internal/config"
	"medialib/internal/media"
)

// Size is a bounding box. Variants keep the aspect ratio and fit inside it.
type Size struct {
	Width, Height int
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("size %q is not WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("bad width in size %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("bad height in size %q", s)
	}
	return Size{Width: width, Height: height}, nil
}

type encoder struct {
	ext    string
	encode func(io.Writer, image.Image) error
}

// encoders is keyed by source type. WebP has no encoder here and becomes PNG.
var encoders = map[string]encoder{
	"image/jpeg": {"", func(w io.Writer, m image.Image) error { return jpeg.Encode(w, m, &jpeg.Options{Quality: 85}) }},
	"image/png":  {"", png.Encode},
	"image/gif":  {"", func(w io.Writer, m image.Image) error { return gif.Encode(w, m, nil) }},
	"image/bmp":  {"", bmp.Encode},
	"image/tiff": {"", func(w io.Writer, m image.Image) error { return tiff.Encode(w, m, nil) }},
	"image/webp": {".png", png.Encode},
}

// ImageGenerator writes "{stem}-{w}x{h}{ext}" next to the original for every
// configured size smaller than the image.
type ImageGenerator struct {
	sizes  []Size
	scaler draw.Scaler
}

func NewImageGenerator(sizes []Size) *ImageGenerator {
	return &ImageGenerator{sizes: sizes, scaler: draw.CatmullRom}
}

// NewGeneratorFromConfig creates a media.DerivativeGenerator from config.
func NewGeneratorFromConfig(cfg config.DerivativesConfig) (media.DerivativeGenerator, error) {
	switch cfg.Type {
	case "none", "":
		return media.NopDerivatives{}, nil
	case "image":
		sizes := make([]Size, 0, len(cfg.Sizes))
		for _, s := range cfg.Sizes {
			size, err := ParseSize(s)
			if err != nil {
				return nil, err
			}
			sizes = append(sizes, size)
		}
		return NewImageGenerator(sizes), nil
	default:
		return nil, fmt.Errorf("unknown derivatives type: %s", cfg.Type)
	}
}

// Generate returns the names it created, even when a later size fails.
// Files that are not supported images yield nothing.
func (g *ImageGenerator) Generate(ctx context.Context, absPath, mimeType string) ([]string, error) {
	enc, ok := encoders[mimeType]
	if !ok || len(g.sizes) == 0 {
		return nil, nil
	}

	src, err := decode(absPath)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()

	dir := filepath.Dir(absPath)
	stem, ext := media.SplitExt(filepath.Base(absPath))
	if enc.ext != "" {
		ext = enc.ext
	}

	var (
		names []string
		errs  []error
		done  = map[Size]bool{}
	)
	for _, box := range g.sizes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		size, ok := fit(bounds.Dx(), bounds.Dy(), box)
		if !ok || done[size] {
			continue
		}
		done[size] = true

		name := fmt.Sprintf("%s-%dx%d%s", stem, size.Width, size.Height, ext)
		if err := g.write(filepath.Join(dir, name), src, size, enc); err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", name, err))
			continue
		}
		names = append(names, name)
	}
	return names, errors.Join(errs...)
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// fit scales (w, h) down into box, keeping the aspect ratio. It reports false
// when the image already fits.
func fit(w, h int, box Size) (Size, bool) {
	if w <= box.Width && h <= box.Height {
		return Size{}, false
	}
	scale := min(float64(box.Width)/float64(w), float64(box.Height)/float64(h))
	out := Size{Width: max(1, int(float64(w)*scale+0.5)), Height: max(1, int(float64(h)*scale+0.5))}
	return out, true
}

func (g *ImageGenerator) write(path string, src image.Image, size Size, enc encoder) (err error) {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	g.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	if err = enc.encode(f, dst); err != nil {
		return err
	}
	return f.Close()
}

var _ media.DerivativeGenerator = (*ImageGenerator)(nil)
